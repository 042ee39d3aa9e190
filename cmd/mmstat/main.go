// mmstat prints the header and layout of mmarr store files.
//
// Usage:
//
//	mmstat [flags] <file>...
//
// Flags:
//
//	-v, --verbose   also print capacity, page padding and lock sidecar state
package main

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/mmarr"
)

const (
	headerSize  = 16
	offDataType = 4
	offCount    = 8
	offBitLen   = 16
	pageSize    = 4096
)

func main() {
	verbose := flag.BoolP("verbose", "v", false, "print capacity, padding and lock state")

	flag.Parse()

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: mmstat [flags] <file>...")
		flag.PrintDefaults()
		os.Exit(2)
	}

	exitCode := 0

	for _, path := range flag.Args() {
		if err := printStat(path, *verbose); err != nil {
			fmt.Fprintf(os.Stderr, "mmstat: %s: %v\n", path, err)

			exitCode = 1
		}
	}

	os.Exit(exitCode)
}

func printStat(path string, verbose bool) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	header := make([]byte, headerSize+8)

	n, err := f.ReadAt(header, 0)
	if err != nil && err != io.EOF {
		return err
	}

	if n < headerSize {
		return fmt.Errorf("file too short for a store header (%d bytes)", n)
	}

	version := int32(binary.LittleEndian.Uint32(header))
	dt := mmarr.DataType(binary.LittleEndian.Uint32(header[offDataType:]))
	count := int64(binary.LittleEndian.Uint64(header[offCount:]))

	fmt.Printf("%s\n", path)
	fmt.Printf("  version    %d\n", version)
	fmt.Printf("  data_type  %s (%d)\n", dt, int32(dt))
	fmt.Printf("  count      %d\n", count)
	fmt.Printf("  file_size  %d\n", info.Size())

	if dt == mmarr.Bit && n >= headerSize+8 {
		bitLen := int64(binary.LittleEndian.Uint64(header[offBitLen:]))
		fmt.Printf("  bit_length %d\n", bitLen)
	}

	if !verbose {
		return nil
	}

	width := dt.Width()
	headerLen := int64(headerSize)

	if dt == mmarr.Bit {
		headerLen += 8
	}

	if width > 0 {
		capacity := (info.Size() - headerLen) / width
		fmt.Printf("  width      %d\n", width)
		fmt.Printf("  capacity   %d\n", capacity)
		fmt.Printf("  slack      %d elements\n", capacity-count)
	}

	fmt.Printf("  page_pad   %d bytes\n", (pageSize-info.Size()%pageSize)%pageSize)

	printLockState(path + ".lock")

	return nil
}

func printLockState(lockPath string) {
	raw, err := os.ReadFile(lockPath)
	if err != nil {
		fmt.Printf("  lock       none\n")

		return
	}

	var meta struct {
		Pid      int    `json:"Pid"`
		Hostname string `json:"Hostname"`
		User     string `json:"User"`
		LockId   string `json:"LockId"`
	}

	if json.Unmarshal(raw, &meta) != nil {
		fmt.Printf("  lock       unreadable sidecar\n")

		return
	}

	fmt.Printf("  lock       pid=%d host=%s user=%s id=%s\n", meta.Pid, meta.Hostname, meta.User, meta.LockId)
}
