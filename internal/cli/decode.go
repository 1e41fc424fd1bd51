package cli

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/text/message"

	"github.com/roach88/pcielane/internal/symbol"
)

// DecodedWord is one capture word split into its two slots.
type DecodedWord struct {
	Word    string `json:"word"`
	A       string `json:"a"`
	B       string `json:"b"`
	Aligned bool   `json:"aligned"`
	Valid   bool   `json:"valid"`
}

// DecodeResult is the decode command's output.
type DecodeResult struct {
	Words  []DecodedWord `json:"words"`
	Errors int           `json:"decode_errors"`
}

// WriteText implements TextWriter. One line per word:
//
//	0x03bc03bc  COM    COM    aligned valid
func (r DecodeResult) WriteText(p *message.Printer, w io.Writer) error {
	for _, d := range r.Words {
		line := fmt.Sprintf("%s  %-6s %-6s", d.Word, d.A, d.B)
		if d.Aligned {
			line += " aligned"
		}
		if d.Valid {
			line += " valid"
		}
		fmt.Fprintln(w, strings.TrimRight(line, " "))
	}
	p.Fprintf(w, "\n%d word(s), %d decode error(s)\n", len(r.Words), r.Errors)
	return nil
}

// NewDecodeCommand creates the decode command.
func NewDecodeCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decode [word...]",
		Short: "Decode captured debug words into symbols",
		Long: `Decode 32-bit words from a bring-up debug capture.

Slot A is the low 16 bits and slot B the high 16 bits. Each slot carries
a 9-bit symbol, and bit 9 holds a flag: aligned for slot A, valid for
slot B. Code violations print as E.

Words are hexadecimal with an optional 0x prefix. With no arguments they
are read from standard input, separated by whitespace.

Examples:
  lanesim decode 0x03bc03bc 02b501ee
  grab-capture | lanesim decode --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDecode(rootOpts, args, cmd)
		},
	}
	return cmd
}

func runDecode(opts *RootOptions, args []string, cmd *cobra.Command) error {
	words := args
	if len(words) == 0 {
		var err error
		words, err = readWords(cmd.InOrStdin())
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read words", err)
		}
	}

	result := DecodeResult{Words: make([]DecodedWord, 0, len(words))}
	for _, s := range words {
		c, err := parseWord(s)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("invalid word %q", s), err)
		}
		d := decodeWord(c)
		for _, r := range [2]symbol.Raw{c.Slot(0), c.Slot(1)} {
			if !symbol.Valid(r) {
				result.Errors++
			}
		}
		result.Words = append(result.Words, d)
	}

	return opts.formatter(cmd).Success(result)
}

func decodeWord(c symbol.Capture) DecodedWord {
	return DecodedWord{
		Word:    fmt.Sprintf("0x%08x", uint32(c)),
		A:       c.Slot(0).String(),
		B:       c.Slot(1).String(),
		Aligned: c.Flag(0),
		Valid:   c.Flag(1),
	}
}

func parseWord(s string) (symbol.Capture, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, err
	}
	return symbol.Capture(v), nil
}

func readWords(r io.Reader) ([]string, error) {
	var words []string
	sc := bufio.NewScanner(r)
	sc.Split(bufio.ScanWords)
	for sc.Scan() {
		words = append(words, sc.Text())
	}
	return words, sc.Err()
}
