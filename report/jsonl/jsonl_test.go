package jsonl

import (
	"bufio"
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/mailru/easyjson/jlexer"
	"github.com/stretchr/testify/assert"
)

type record struct {
	ts        int64
	seq       uint64
	width     int
	height    int
	latencyUs int64
	strips    int
	spoiled   int
	bytes     int
	err       string
}

func parse(line []byte) (r record, err error) {
	in := jlexer.Lexer{Data: line}
	in.Delim('{')
	for !in.IsDelim('}') {
		key := in.UnsafeString()
		in.WantColon()
		switch key {
		case "ts":
			r.ts = in.Int64()
		case "seq":
			r.seq = in.Uint64()
		case "width":
			r.width = in.Int()
		case "height":
			r.height = in.Int()
		case "latency_us":
			r.latencyUs = in.Int64()
		case "strips":
			r.strips = in.Int()
		case "spoiled":
			r.spoiled = in.Int()
		case "bytes":
			r.bytes = in.Int()
		case "error":
			r.err = in.String()
		default:
			in.SkipRecursive()
		}
		in.WantComma()
	}
	in.Delim('}')
	in.Consumed()
	return r, in.Error()
}

func TestJSONL(t *testing.T) {
	a := assert.New(t)

	b := new(bytes.Buffer)
	r := New(b)
	errChan := make(chan error)
	go func() {
		errChan <- r.Run()
	}()

	startTime := time.Now()
	now = func() time.Time { return startTime }
	state := r.Acquire(7)
	state.SetSize(64, 32)
	state.OnStrip(10)
	state.OnStrip(20)
	state.Spoiled(1)
	now = func() time.Time { return startTime.Add(250 * time.Microsecond) }
	state.End()

	now = func() time.Time { return startTime }
	state = r.Acquire(8)
	state.IoError(errors.New(`peer said "no"`))
	state.End()

	a.NoError(r.Close())
	a.NoError(<-errChan)

	sc := bufio.NewScanner(b)
	var got []record
	for sc.Scan() {
		rec, err := parse(sc.Bytes())
		a.NoError(err)
		got = append(got, rec)
	}
	if !a.Len(got, 2) {
		return
	}
	a.Equal(record{
		ts: startTime.UnixMilli(), seq: 7, width: 64, height: 32,
		latencyUs: 250, strips: 2, spoiled: 1, bytes: 30,
	}, got[0])
	a.Equal(uint64(8), got[1].seq)
	a.Equal(`peer said "no"`, got[1].err)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestFailedWriterKeepsDraining(t *testing.T) {
	a := assert.New(t)

	r := New(failingWriter{})
	errChan := make(chan error)
	go func() {
		errChan <- r.Run()
	}()

	ended := make(chan struct{})
	go func() {
		defer close(ended)
		for i := 0; i < 2000; i++ {
			state := r.Acquire(uint64(i))
			state.SetSize(1920, 1080)
			state.OnStrip(4096)
			state.End()
		}
	}()
	select {
	case <-ended:
	case <-time.After(5 * time.Second):
		t.Fatal("End blocked after the writer failed")
	}

	a.NoError(r.Close())
	err := <-errChan
	a.Error(err)
	a.Contains(err.Error(), "disk full")
}
