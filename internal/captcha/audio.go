// File: internal/captcha/audio.go
package captcha

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	cdpruntime "github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

const (
	audioButtonSelector   = "#recaptcha-audio-button"
	audioSourceSelector   = "#audio-source"
	audioLinkSelector     = ".rc-audiochallenge-tdownload-link"
	audioAnswerSelector   = "#audio-response"
	verifyButtonSelector  = "#recaptcha-verify-button"
	challengeErrorMessage = ".rc-audiochallenge-error-message"

	audioMimeType = "audio/mpeg"
)

var errNoAudioSource = errors.New("no audio source located in challenge frame")

// solveAudio drives the audio challenge inside the challenge frame and
// returns the verification token.
func (p *Pipeline) solveAudio(ctx context.Context) (string, error) {
	frameID, err := p.session.FindFrame(ctx, bframePath, p.stepTimeout())
	if err != nil {
		return "", fmt.Errorf("challenge frame not found: %w", err)
	}
	frameCtx, cancel, err := p.session.AttachFrame(frameID)
	if err != nil {
		return "", err
	}
	defer cancel()

	// The interceptor must be listening before the audio request fires.
	interceptor, err := newAudioInterceptor(frameCtx, p.logger)
	if err != nil {
		p.logStep("audio_intercept", "failed", err.Error())
	}

	toggleCtx, toggleCancel := context.WithTimeout(frameCtx, p.stepTimeout())
	err = chromedp.Run(toggleCtx,
		chromedp.WaitVisible(audioButtonSelector, chromedp.ByQuery),
		chromedp.Click(audioButtonSelector, chromedp.ByQuery),
	)
	toggleCancel()
	if err != nil {
		return "", fmt.Errorf("audio toggle failed: %w", err)
	}
	p.logStep("audio_toggle", "ok", "challenge switched to audio")

	srcURL, err := p.locateAudioSource(frameCtx)
	if err != nil {
		return "", err
	}
	p.logStep("audio_locate", "ok", srcURL)

	audio, strategy, err := p.fetchAudio(ctx, frameCtx, interceptor, srcURL)
	if err != nil {
		p.logStep("audio_fetch", "failed", err.Error())
		return "", err
	}
	p.logStep("audio_fetch", "ok", fmt.Sprintf("%s (%d bytes)", strategy, len(audio)))

	answer, err := p.resolver.Resolve(ctx, audio, audioMimeType)
	if err != nil {
		p.logStep("transcribe", "failed", err.Error())
		return "", fmt.Errorf("transcription failed: %w", err)
	}
	p.logStep("transcribe", "ok", answer.Engine)

	if err := p.submitAnswer(frameCtx, answer.Text); err != nil {
		return "", err
	}
	p.logStep("audio_answer", "ok", "submitted")

	token, ok := p.awaitToken(ctx, 10*time.Second)
	if !ok {
		if p.challengeRejected(frameCtx) {
			return "", errors.New("challenge rejected the transcribed answer")
		}
		return "", errors.New("no token after answer submission")
	}
	return token, nil
}

// locateAudioSource polls the challenge frame for the audio element source or
// the download link.
func (p *Pipeline) locateAudioSource(frameCtx context.Context) (string, error) {
	script := fmt.Sprintf(`(function() {
        const audio = document.querySelector(%q);
        if (audio && audio.src) { return audio.src; }
        const link = document.querySelector(%q);
        if (link && link.href) { return link.href; }
        return '';
    })()`, audioSourceSelector, audioLinkSelector)

	deadline := time.Now().Add(p.stepTimeout())
	for time.Now().Before(deadline) {
		var src string
		evalCtx, cancel := context.WithTimeout(frameCtx, 5*time.Second)
		err := chromedp.Run(evalCtx, chromedp.Evaluate(script, &src))
		cancel()
		if err == nil && src != "" {
			return src, nil
		}
		select {
		case <-frameCtx.Done():
			return "", frameCtx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
	return "", errNoAudioSource
}

// fetchAudio retrieves the challenge audio bytes, escalating through three
// strategies: the intercepted network response, an in-page fetch returning
// base64, and a direct HTTP GET from the host process.
func (p *Pipeline) fetchAudio(ctx, frameCtx context.Context, interceptor *audioInterceptor, srcURL string) ([]byte, string, error) {
	if interceptor != nil {
		if data, err := interceptor.Body(frameCtx, 3*time.Second); err == nil && len(data) > 0 {
			return data, "intercepted", nil
		}
	}

	if data, err := fetchAudioInPage(frameCtx, srcURL); err == nil && len(data) > 0 {
		return data, "in_page_fetch", nil
	} else if err != nil {
		p.logger.Debug("In-page audio fetch failed.", zap.Error(err))
	}

	data, err := fetchAudioDirect(ctx, srcURL)
	if err != nil {
		return nil, "", fmt.Errorf("all audio fetch strategies failed, last: %w", err)
	}
	return data, "direct_get", nil
}

// fetchAudioInPage downloads the audio from inside the challenge frame, so
// the request carries the frame's cookies and origin.
func fetchAudioInPage(frameCtx context.Context, srcURL string) ([]byte, error) {
	script := fmt.Sprintf(`fetch(%q)
        .then(r => { if (!r.ok) { throw new Error('status ' + r.status); } return r.arrayBuffer(); })
        .then(buf => {
            let binary = '';
            const bytes = new Uint8Array(buf);
            for (let i = 0; i < bytes.length; i++) { binary += String.fromCharCode(bytes[i]); }
            return btoa(binary);
        })`, srcURL)

	var encoded string
	fetchCtx, cancel := context.WithTimeout(frameCtx, 20*time.Second)
	defer cancel()
	err := chromedp.Run(fetchCtx, chromedp.Evaluate(script, &encoded,
		func(params *cdpruntime.EvaluateParams) *cdpruntime.EvaluateParams {
			return params.WithAwaitPromise(true)
		}))
	if err != nil {
		return nil, err
	}
	return base64.StdEncoding.DecodeString(encoded)
}

// fetchAudioDirect is the last resort: an unauthenticated GET from Go.
func fetchAudioDirect(ctx context.Context, srcURL string) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, srcURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("direct audio fetch returned status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 10<<20))
}

// submitAnswer types the transcript and clicks verify.
func (p *Pipeline) submitAnswer(frameCtx context.Context, answer string) error {
	submitCtx, cancel := context.WithTimeout(frameCtx, p.stepTimeout())
	defer cancel()

	err := chromedp.Run(submitCtx,
		chromedp.WaitVisible(audioAnswerSelector, chromedp.ByQuery),
		chromedp.SendKeys(audioAnswerSelector, answer, chromedp.ByQuery),
		chromedp.Click(verifyButtonSelector, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("answer submission failed: %w", err)
	}
	return nil
}

// challengeRejected reports whether the frame shows a visible error message.
func (p *Pipeline) challengeRejected(frameCtx context.Context) bool {
	var visible bool
	script := fmt.Sprintf(`(function() {
        const el = document.querySelector(%q);
        return !!(el && el.offsetParent !== null && el.textContent.trim() !== '');
    })()`, challengeErrorMessage)

	checkCtx, cancel := context.WithTimeout(frameCtx, 5*time.Second)
	defer cancel()
	if err := chromedp.Run(checkCtx, chromedp.Evaluate(script, &visible)); err != nil {
		return false
	}
	return visible
}

// audioInterceptor captures the challenge audio response off the frame's
// network events.
type audioInterceptor struct {
	mu        sync.Mutex
	requestID network.RequestID
	found     chan struct{}
	once      sync.Once
}

// newAudioInterceptor enables network events on the frame and starts
// watching for audio responses.
func newAudioInterceptor(frameCtx context.Context, logger *zap.Logger) (*audioInterceptor, error) {
	if err := chromedp.Run(frameCtx, network.Enable()); err != nil {
		return nil, fmt.Errorf("could not enable network events: %w", err)
	}

	ai := &audioInterceptor{found: make(chan struct{})}
	chromedp.ListenTarget(frameCtx, func(ev interface{}) {
		resp, ok := ev.(*network.EventResponseReceived)
		if !ok {
			return
		}
		if !isAudioResponse(resp.Response.MimeType, resp.Response.URL) {
			return
		}
		logger.Debug("Intercepted audio response.", zap.String("url", resp.Response.URL))
		ai.mu.Lock()
		ai.requestID = resp.RequestID
		ai.mu.Unlock()
		ai.once.Do(func() { close(ai.found) })
	})
	return ai, nil
}

// Body waits for an intercepted response and pulls its bytes.
func (ai *audioInterceptor) Body(frameCtx context.Context, wait time.Duration) ([]byte, error) {
	select {
	case <-ai.found:
	case <-time.After(wait):
		return nil, errors.New("no audio response intercepted")
	case <-frameCtx.Done():
		return nil, frameCtx.Err()
	}

	ai.mu.Lock()
	id := ai.requestID
	ai.mu.Unlock()

	var body []byte
	err := chromedp.Run(frameCtx, chromedp.ActionFunc(func(c context.Context) error {
		var err error
		body, err = network.GetResponseBody(id).Do(c)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("could not read intercepted body: %w", err)
	}
	return body, nil
}

func isAudioResponse(mimeType, url string) bool {
	if strings.HasPrefix(mimeType, "audio/") {
		return true
	}
	return strings.Contains(url, "payload") && strings.Contains(url, "audio")
}
