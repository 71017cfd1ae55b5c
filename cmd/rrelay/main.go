package main

import (
	"context"
	"math"
	"net/http"
	_ "net/http/pprof" //nolint:gosec
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	mangokong "github.com/alecthomas/mango-kong"
)

var CLI struct {
	Stream      StreamCommand     `cmd:"" help:"Stream frames to a viewer."`
	View        ViewCommand       `cmd:"" help:"Receive a stream and rebuild its frames."`
	Man         mangokong.ManFlag `help:"Write man page." hidden:""`
	DebugServer bool              `help:"Enable debug server on :8081."`
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	kongCtx := kong.Parse(
		&CLI,
		kong.BindTo(ctx, (*context.Context)(nil)),
		kong.Bind(DurationLimit{Duration: math.MaxInt64}),
		kong.Groups(map[string]string{
			"fps":   `Frame rate:`,
			"codec": `Compression flags:`,
			"frame": `Frame source flags:`,
		}),
		kong.ConfigureHelp(kong.HelpOptions{
			Tree:    true,
			Compact: true,
		}),
		kong.Description(`remote rendering relay

The rrelay streams rendered frames to a remote viewer. Frames are cut into strips,
compressed in parallel and only strips that changed since the previous frame go
over the wire. The viewer grants every next frame with a clear-to-send byte.
		`),
	)

	if CLI.DebugServer {
		go func() {
			http.ListenAndServe(":8081", nil) //nolint:errcheck,gosec
		}()
	}

	err := kongCtx.Run()
	kongCtx.FatalIfErrorf(err)
}
