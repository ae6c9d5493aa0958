package main

import (
	"context"
	"fmt"

	"github.com/arashilabs/fcgid"
)

// echoHandler is a placeholder Handler: it reports the request's
// parameters and body length. The request handler body proper is out of
// scope for this module (spec.md §1); a real deployment supplies its own
// Handler (a PHP interpreter, an application router, a static file
// server) and never uses this one.
func echoHandler(ctx context.Context, in *fcgid.Input, out *fcgid.Output) {
	body, err := in.GetBinaryContent()
	if err != nil {
		out.SetStatus(500)
		out.Write(fmt.Sprintf("error reading request body: %v\n", err))
		out.End()
		return
	}

	out.SetHeader("Content-Type", "text/plain; charset=utf-8")
	out.Write("fcgid-serve echo handler\n\n")
	out.Write(fmt.Sprintf("method:       %s\n", mustParam(in, "REQUEST_METHOD")))
	out.Write(fmt.Sprintf("uri:          %s\n", mustParam(in, "REQUEST_URI")))
	out.Write(fmt.Sprintf("body length:  %d\n", len(body)))
	out.End()
}

func mustParam(in *fcgid.Input, name string) string {
	v, err := in.Parameter(name)
	if err != nil {
		return "(not set)"
	}
	return v
}
