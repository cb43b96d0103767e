package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"time"

	"mcpconceal/internal/detect"
	"mcpconceal/internal/frame"
	"mcpconceal/internal/jsonval"
)

// direction identifies which of the two data-carrying forwarders is
// running, purely for logging and per-direction frame counters.
type direction int

const (
	directionToChild direction = iota
	directionToClient
)

func (d direction) String() string {
	if d == directionToChild {
		return "client->child"
	}
	return "child->client"
}

// forward runs one direction's read-frame/transform/write-frame loop to
// completion. Within this direction, frame N is fully rewritten and
// forwarded before frame N+1 begins, which falls out for free from
// running sequentially in one goroutine. Returns nil on a clean peer EOF;
// any other error is a fatal I/O or pipeline failure that ends the whole
// connection.
func (o *Orchestrator) forward(ctx context.Context, src io.Reader, dst io.Writer, dir direction) error {
	r := frame.NewReaderSize(src, o.maxFrameBytes)
	w := frame.NewWriter(dst)

	for {
		raw, err := r.ReadFrame()
		if err != nil {
			if err == io.EOF {
				// Draining: the peer on this side is done. Close the
				// other side's write end (e.g. the client->child
				// forwarder closing the child's stdin) so it can observe
				// EOF too.
				o.setState(StateDraining)
				if closer, ok := dst.(io.Closer); ok {
					_ = closer.Close()
				}
				return nil
			}
			if errors.Is(err, frame.ErrFrameTooLarge) {
				o.log.Errorf("frame", "%s: frame exceeds %d bytes, ending connection", dir, o.maxFrameBytes)
			}
			return err
		}

		out, procErr := o.processFrame(ctx, raw)
		if procErr != nil {
			var malformed *frame.MalformedJSONError
			if errors.As(procErr, &malformed) {
				o.log.Warnf("frame", "%s: malformed json, forwarding unchanged: %v", dir, malformed.Err)
				o.m.FramesMalformed.Add(1)
				out = raw
			} else {
				o.log.Errorf("frame", "%s: pipeline error: %v", dir, procErr)
				return procErr
			}
		}

		if err := w.WriteFrame(out); err != nil {
			return err
		}

		switch dir {
		case directionToChild:
			o.m.FramesClientToChild.Add(1)
		case directionToClient:
			o.m.FramesChildToClient.Add(1)
		}
	}
}

// processFrame parses one raw frame, walks it for string leaves outside
// the JSON-RPC envelope, detects and pseudonymizes any PII found, and
// re-encodes the rewritten tree. A parse failure is returned as a
// *frame.MalformedJSONError so the caller can forward the original bytes
// verbatim rather than rewrite.
func (o *Orchestrator) processFrame(ctx context.Context, raw []byte) ([]byte, error) {
	v, err := jsonval.Parse(raw)
	if err != nil {
		return nil, &frame.MalformedJSONError{Raw: raw, Err: err}
	}

	leaves := jsonval.CollectStringLeaves(v, jsonval.IsEnvelopePath)
	if len(leaves) == 0 {
		return v.Encode()
	}

	replacements := make(map[string]string, len(leaves))
	for _, leaf := range leaves {
		rewritten, err := o.rewriteLeaf(ctx, leaf.Value)
		if err != nil {
			return nil, err
		}
		if rewritten != leaf.Value {
			replacements[leaf.Path] = rewritten
		}
	}

	jsonval.Splice(v, replacements)
	return v.Encode()
}

// rewriteLeaf detects PII spans in text, looks up (or creates) a stable
// pseudonym for each, and splices replacements in right-to-left so
// earlier offsets stay valid as later ones are substituted. All detector
// and store calls for this leaf complete before any splice is applied.
func (o *Orchestrator) rewriteLeaf(ctx context.Context, text string) (string, error) {
	start := time.Now()
	var spans []detect.Span
	spans = append(spans, o.pattern.Detect(text)...)
	if o.llm != nil {
		spans = append(spans, o.llm.Detect(ctx, text)...)
	}
	fused := detect.Fuse(spans, o.threshold)
	o.m.RecordDetectionLatency(time.Since(start))

	if len(fused) == 0 {
		return text, nil
	}
	o.m.PIIDetected.Add(int64(len(fused)))

	for i := len(fused) - 1; i >= 0; i-- {
		span := fused[i]
		original := span.Text(text)

		var fake string
		if o.consistency {
			storeStart := time.Now()
			f, created, err := o.store.LookupOrCreate(span.Type, original)
			fake = f
			o.m.RecordStoreLatency(time.Since(storeStart))
			if err != nil {
				return "", fmt.Errorf("pseudonym lookup for %s: %w", span.Type, err)
			}
			if created {
				o.m.MappingsCreated.Add(1)
			}
		} else {
			// Debugging mode: no store involvement, no persistence, no
			// cross-occurrence consistency — a fresh candidate every time.
			fake = o.ephemeralFaker.Generate(span.Type, original, rand.IntN(1<<20)+1)
		}
		o.m.RecordEntityType(string(span.Type))
		o.m.PIIAnonymized.Add(1)

		text = text[:span.Start] + fake + text[span.End():]
	}
	return text, nil
}
