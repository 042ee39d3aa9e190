// mmsh is an interactive shell for inspecting and mutating mmarr store
// files.
//
// Usage:
//
//	mmsh <store-file>            Open read-only
//	mmsh -w <store-file>         Open as the writer
//
// Commands (in REPL):
//
//	info                      Show header and layout
//	len                       Element count (bit length for bit arrays)
//	get <i>                   Read element i
//	span <start> <len>        Read a range
//	append <v>...             Append values (writer)
//	setlast <v>               Overwrite the last element (writer)
//	truncate <n>              Keep the first n elements (writer)
//	chop <n>                  Keep the last n elements (writer)
//	search <v>                Binary search (time series only)
//	bounds <v>                Lower/upper bound (time series only)
//	util                      Utilisation status (integer arrays)
//	help                      Show this help
//	exit / quit / q           Exit
package main

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/peterh/liner"

	"github.com/calvinalkan/mmarr"
)

func main() {
	write := false

	args := os.Args[1:]
	if len(args) > 0 && args[0] == "-w" {
		write = true
		args = args[1:]
	}

	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: mmsh [-w] <store-file>")
		os.Exit(2)
	}

	path := args[0]

	dt, err := sniffDataType(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mmsh: %v\n", err)
		os.Exit(1)
	}

	sh, err := openShell(path, dt, write)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mmsh: %v\n", err)
		os.Exit(1)
	}
	defer sh.close()

	line := liner.NewLiner()
	defer line.Close()

	line.SetCtrlCAborts(true)

	fmt.Printf("mmsh: %s (%s, %s)\n", path, dt, mode(write))

	for {
		input, err := line.Prompt("mmsh> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				return
			}

			fmt.Fprintf(os.Stderr, "read: %v\n", err)

			return
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		line.AppendHistory(input)

		fields := strings.Fields(input)
		if fields[0] == "exit" || fields[0] == "quit" || fields[0] == "q" {
			return
		}

		if err := sh.run(fields); err != nil {
			fmt.Printf("error: %v\n", err)
		}
	}
}

func mode(write bool) string {
	if write {
		return "writer"
	}

	return "reader"
}

func sniffDataType(path string) (mmarr.DataType, error) {
	f, err := os.Open(path)
	if err != nil {
		return mmarr.AnyStruct, err
	}
	defer f.Close()

	var header [8]byte

	if _, err := f.ReadAt(header[:], 0); err != nil {
		return mmarr.AnyStruct, fmt.Errorf("read header: %w", err)
	}

	return mmarr.DataType(binary.LittleEndian.Uint32(header[4:])), nil
}

// shell adapts the store flavour behind one command surface.
type shell struct {
	path   string
	dt     mmarr.DataType
	ints   *mmarr.Int64Array
	series *mmarr.Series
	bits   *mmarr.BitArray
}

func openShell(path string, dt mmarr.DataType, write bool) (*shell, error) {
	m := mmarr.ReadOnly
	if write {
		m = mmarr.ReadWrite
	}

	sh := &shell{path: path, dt: dt}

	var err error

	switch dt {
	case mmarr.Bit:
		sh.bits, err = mmarr.OpenBitArray(path, mmarr.Options{Mode: m})
	case mmarr.DateTime, mmarr.UnixSeconds:
		sh.series, err = mmarr.OpenSeries(path, mmarr.SeriesOptions{Mode: m})
	default:
		sh.ints, err = mmarr.OpenInt64(path, mmarr.Int64Options{Mode: m})
	}

	return sh, err
}

func (sh *shell) close() {
	switch {
	case sh.bits != nil:
		_ = sh.bits.Close()
	case sh.series != nil:
		_ = sh.series.Close()
	case sh.ints != nil:
		_ = sh.ints.Close()
	}
}

func (sh *shell) count() int64 {
	switch {
	case sh.bits != nil:
		return sh.bits.Length()
	case sh.series != nil:
		return sh.series.Count()
	default:
		return sh.ints.Count()
	}
}

func (sh *shell) run(fields []string) error {
	switch fields[0] {
	case "help":
		fmt.Print(helpText)

		return nil
	case "info":
		return sh.info()
	case "len":
		fmt.Println(sh.count())

		return nil
	case "get":
		return sh.get(fields[1:])
	case "span":
		return sh.span(fields[1:])
	case "append":
		return sh.append(fields[1:])
	case "setlast":
		return sh.setLast(fields[1:])
	case "truncate":
		return sh.truncate(fields[1:])
	case "chop":
		return sh.chop(fields[1:])
	case "search", "bounds":
		return sh.search(fields[0], fields[1:])
	case "util":
		return sh.util()
	default:
		return fmt.Errorf("unknown command %q (try help)", fields[0])
	}
}

func (sh *shell) info() error {
	fmt.Printf("path       %s\n", sh.path)
	fmt.Printf("data_type  %s\n", sh.dt)

	switch {
	case sh.bits != nil:
		fmt.Printf("bit_length %d\n", sh.bits.Length())
		fmt.Printf("words      %d\n", sh.bits.WordCount())
		fmt.Printf("capacity   %d words\n", sh.bits.Capacity())

		card, err := sh.bits.Cardinality()
		if err != nil {
			return err
		}

		fmt.Printf("set_bits   %d\n", card)
	case sh.series != nil:
		fmt.Printf("count      %d\n", sh.series.Count())
		fmt.Printf("capacity   %d\n", sh.series.Capacity())
	default:
		fmt.Printf("count      %d\n", sh.ints.Count())
		fmt.Printf("capacity   %d\n", sh.ints.Capacity())
	}

	return nil
}

func (sh *shell) get(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: get <i>")
	}

	i, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return err
	}

	switch {
	case sh.bits != nil:
		v, err := sh.bits.Get(i)
		if err != nil {
			return err
		}

		fmt.Println(v)
	case sh.series != nil:
		v, err := sh.series.Get(i)
		if err != nil {
			return err
		}

		t, terr := sh.series.TimeAt(i)
		if terr == nil {
			fmt.Printf("%d (%s)\n", v, t.Format("2006-01-02T15:04:05.9999999Z07:00"))
		} else {
			fmt.Println(v)
		}
	default:
		v, err := sh.ints.Get(i)
		if err != nil {
			return err
		}

		fmt.Println(v)
	}

	return nil
}

func (sh *shell) span(args []string) error {
	if len(args) != 2 {
		return errors.New("usage: span <start> <len>")
	}

	start, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return err
	}

	length, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return err
	}

	switch {
	case sh.bits != nil:
		vals, err := sh.bits.Span(start, length)
		if err != nil {
			return err
		}

		fmt.Println(vals)
	case sh.series != nil:
		vals, err := sh.series.Span(start, length)
		if err != nil {
			return err
		}

		fmt.Println(vals)
	default:
		vals, err := sh.ints.Span(start, length)
		if err != nil {
			return err
		}

		fmt.Println(vals)
	}

	return nil
}

func (sh *shell) append(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: append <v>...")
	}

	for _, arg := range args {
		switch {
		case sh.bits != nil:
			v, err := strconv.ParseBool(arg)
			if err != nil {
				return err
			}

			if err := sh.bits.Append(v); err != nil {
				return err
			}
		case sh.series != nil:
			v, err := strconv.ParseInt(arg, 10, 64)
			if err != nil {
				return err
			}

			if err := sh.series.Append(v); err != nil {
				return err
			}
		default:
			v, err := strconv.ParseInt(arg, 10, 64)
			if err != nil {
				return err
			}

			if err := sh.ints.Append(v); err != nil {
				return err
			}
		}
	}

	fmt.Printf("ok, len=%d\n", sh.count())

	return nil
}

func (sh *shell) setLast(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: setlast <v>")
	}

	switch {
	case sh.bits != nil:
		return errors.New("setlast is not supported for bit arrays (use set via append/truncate)")
	case sh.series != nil:
		v, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return err
		}

		return sh.series.SetLast(v)
	default:
		v, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return err
		}

		return sh.ints.SetLast(v)
	}
}

func (sh *shell) truncate(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: truncate <n>")
	}

	n, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return err
	}

	switch {
	case sh.bits != nil:
		return sh.bits.TruncateTail(n)
	case sh.series != nil:
		return sh.series.TruncateTail(n)
	default:
		return sh.ints.TruncateTail(n)
	}
}

func (sh *shell) chop(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: chop <n>")
	}

	n, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return err
	}

	progress := func(current, total int64, label string) {
		if current == total {
			fmt.Printf("%s: done (%d elements)\n", label, total)
		}
	}

	switch {
	case sh.bits != nil:
		return sh.bits.TruncateHead(n, progress)
	case sh.series != nil:
		return sh.series.TruncateHead(n, progress)
	default:
		return sh.ints.TruncateHead(n, progress)
	}
}

func (sh *shell) search(cmd string, args []string) error {
	if sh.series == nil {
		return errors.New("search requires a time-series file")
	}

	if len(args) != 1 {
		return fmt.Errorf("usage: %s <v>", cmd)
	}

	v, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return err
	}

	n := sh.series.Count()

	if cmd == "search" {
		idx, err := sh.series.BinarySearch(v, 0, n)
		if err != nil {
			return err
		}

		if idx >= 0 {
			fmt.Printf("found at %d\n", idx)
		} else {
			fmt.Printf("not found, insertion point %d\n", ^idx)
		}

		return nil
	}

	lower, err := sh.series.LowerBound(v, 0, n)
	if err != nil {
		return err
	}

	upper, err := sh.series.UpperBound(v, 0, n)
	if err != nil {
		return err
	}

	fmt.Printf("lower=%d upper=%d\n", lower, upper)

	return nil
}

func (sh *shell) util() error {
	if sh.ints == nil {
		return errors.New("util requires an integer array")
	}

	status := sh.ints.UtilisationStatus()
	fmt.Printf("ratio=%.4f observed=[%d, %d] allowed=[%d, %d] count=%d\n",
		status.Ratio, status.ObservedMin, status.ObservedMax,
		status.AllowedMin, status.AllowedMax, status.Count)

	return nil
}

const helpText = `commands:
  info                 show header and layout
  len                  element count (bit length for bit arrays)
  get <i>              read element i
  span <start> <len>   read a range
  append <v>...        append values (writer)
  setlast <v>          overwrite the last element (writer)
  truncate <n>         keep the first n elements (writer)
  chop <n>             keep the last n elements (writer)
  search <v>           binary search (time series)
  bounds <v>           lower/upper bound (time series)
  util                 utilisation status (integer arrays)
  exit                 quit
`
