package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/estutasa/JackTheGripper/internal/db"
)

const prompt = "> "

type lineHandler interface {
	Handle(line string) (string, error)
}

// commandRecorder stores console lines. *db.DB implements it.
type commandRecorder interface {
	RecordCommand(line, source string, err error, at time.Time) error
}

// recorderFor avoids handing a typed nil *db.DB to the console.
func recorderFor(store *db.DB) commandRecorder {
	if store == nil {
		return nil
	}
	return store
}

// runConsole reads command lines from in until EOF, "quit" or "exit", or
// until ctx is done. Results and errors are written to out.
func runConsole(ctx context.Context, in io.Reader, out io.Writer, h lineHandler, rec commandRecorder) {
	sc := bufio.NewScanner(in)
	fmt.Fprint(out, prompt)
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(sc.Text())
		switch line {
		case "":
			fmt.Fprint(out, prompt)
			continue
		case "quit", "exit":
			return
		}

		text, err := h.Handle(line)
		if rec != nil {
			if rerr := rec.RecordCommand(line, "console", err, time.Now()); rerr != nil {
				fmt.Fprintf(out, "failed to record command: %v\n", rerr)
			}
		}
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		} else if text != "" {
			fmt.Fprint(out, text)
		}
		fmt.Fprint(out, prompt)
	}
}
