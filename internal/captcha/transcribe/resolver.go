// File: internal/captcha/transcribe/resolver.go
package transcribe

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Resolver fans audio out to every engine in parallel and picks the best
// answer.
type Resolver struct {
	engines []Engine
	logger  *zap.Logger
}

// NewResolver builds a resolver over the given engines.
func NewResolver(logger *zap.Logger, engines ...Engine) *Resolver {
	return &Resolver{
		engines: engines,
		logger:  logger.Named("transcribe"),
	}
}

// Engines returns how many engines are configured.
func (r *Resolver) Engines() int {
	return len(r.engines)
}

// Resolve transcribes the audio with every engine concurrently and returns
// the non-empty result with the highest confidence. Individual engine
// failures are logged and tolerated; Resolve fails only when every engine
// does.
func (r *Resolver) Resolve(ctx context.Context, audio []byte, mimeType string) (Result, error) {
	if len(r.engines) == 0 {
		return Result{}, ErrNoTranscript
	}

	var mu sync.Mutex
	var results []Result

	g, gctx := errgroup.WithContext(ctx)
	for _, engine := range r.engines {
		engine := engine
		g.Go(func() error {
			res, err := engine.Transcribe(gctx, audio, mimeType)
			if err != nil {
				// One engine failing must not sink the others.
				r.logger.Warn("Engine failed.", zap.String("engine", engine.Name()), zap.Error(err))
				return nil
			}
			if res.Text == "" {
				r.logger.Debug("Engine returned an empty transcript.", zap.String("engine", engine.Name()))
				return nil
			}
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	if len(results) == 0 {
		return Result{}, ErrNoTranscript
	}

	best := results[0]
	for _, res := range results[1:] {
		if res.Confidence > best.Confidence {
			best = res
		}
	}
	r.logger.Info("Transcript selected.",
		zap.String("engine", best.Engine),
		zap.Float64("confidence", best.Confidence),
		zap.Int("candidates", len(results)),
	)
	return best, nil
}
