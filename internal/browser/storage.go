// File: internal/browser/storage.go
package browser

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"
)

// StorageState is the serialized authentication state of a session: cookies
// for the whole browser plus local storage per visited origin. It survives
// restarts through the configured state file.
type StorageState struct {
	SavedAt time.Time            `json:"saved_at"`
	Cookies []*network.CookieParam `json:"cookies"`
	Origins []OriginStorage      `json:"origins"`
}

// OriginStorage captures the local storage entries of a single origin.
type OriginStorage struct {
	Origin       string            `json:"origin"`
	LocalStorage map[string]string `json:"local_storage"`
}

// saveStorageState captures cookies and the current origin's local storage
// and writes them to the state file.
func (s *Session) saveStorageState(ctx context.Context) error {
	if s.cfg.StateFile == "" {
		return nil
	}

	state := StorageState{SavedAt: time.Now().UTC()}

	captureCtx, cancel := CombineContext(s.base.ctx, ctx)
	defer cancel()

	err := chromedp.Run(captureCtx,
		chromedp.ActionFunc(func(c context.Context) error {
			cookies, err := storage.GetCookies().Do(c)
			if err != nil {
				return fmt.Errorf("could not read cookies: %w", err)
			}
			state.Cookies = cookiesToParams(cookies)
			return nil
		}),
		chromedp.ActionFunc(func(c context.Context) error {
			origin, entries, err := dumpLocalStorage(c)
			if err != nil {
				s.logger.Debug("Could not capture local storage.", zap.Error(err))
				return nil
			}
			if origin != "" && origin != "null" && len(entries) > 0 {
				state.Origins = append(state.Origins, OriginStorage{Origin: origin, LocalStorage: entries})
			}
			return nil
		}),
	)
	if err != nil {
		return err
	}

	return writeStateFile(s.cfg.StateFile, &state)
}

// restoreStorageState loads the state file, if present, and applies the
// cookies. Local storage entries are applied per origin after navigation via
// RestoreLocalStorage.
func (s *Session) restoreStorageState(ctx context.Context) error {
	if s.cfg.StateFile == "" {
		return nil
	}

	state, err := ReadStateFile(s.cfg.StateFile)
	if os.IsNotExist(err) {
		s.logger.Debug("No storage state file; starting fresh.", zap.String("path", s.cfg.StateFile))
		return nil
	}
	if err != nil {
		return err
	}
	if len(state.Cookies) == 0 {
		return nil
	}

	restoreCtx, cancel := CombineContext(s.base.ctx, ctx)
	defer cancel()

	err = chromedp.Run(restoreCtx, chromedp.ActionFunc(func(c context.Context) error {
		return storage.SetCookies(state.Cookies).Do(c)
	}))
	if err != nil {
		return fmt.Errorf("could not restore cookies: %w", err)
	}

	s.logger.Info("Restored storage state.",
		zap.Int("cookies", len(state.Cookies)),
		zap.Int("origins", len(state.Origins)),
		zap.Time("saved_at", state.SavedAt),
	)
	return nil
}

// RestoreLocalStorage applies persisted local storage entries for the origin
// the current page is on. Call after navigating to the target origin.
func (s *Session) RestoreLocalStorage(ctx context.Context) error {
	if s.cfg.StateFile == "" {
		return nil
	}
	state, err := ReadStateFile(s.cfg.StateFile)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	page := s.Page()
	origin, err := pageOrigin(ctx, page)
	if err != nil {
		return err
	}

	for _, o := range state.Origins {
		if o.Origin != origin {
			continue
		}
		for k, v := range o.LocalStorage {
			script := fmt.Sprintf(`try { window.localStorage.setItem(%q, %q); } catch (e) {}`, k, v)
			if err := page.Evaluate(ctx, script, nil); err != nil {
				return fmt.Errorf("could not restore local storage for %s: %w", origin, err)
			}
		}
		s.logger.Debug("Restored local storage entries.", zap.String("origin", origin), zap.Int("entries", len(o.LocalStorage)))
	}
	return nil
}

func pageOrigin(ctx context.Context, page *Page) (string, error) {
	var origin string
	if err := page.Evaluate(ctx, `window.location.origin`, &origin); err != nil {
		return "", fmt.Errorf("could not read page origin: %w", err)
	}
	return origin, nil
}

// dumpLocalStorage reads every local storage entry of the executing frame.
func dumpLocalStorage(ctx context.Context) (string, map[string]string, error) {
	var result struct {
		Origin  string            `json:"origin"`
		Entries map[string]string `json:"entries"`
	}
	script := `(function() {
        const entries = {};
        try {
            for (let i = 0; i < window.localStorage.length; i++) {
                const k = window.localStorage.key(i);
                if (k !== null) { entries[k] = window.localStorage.getItem(k); }
            }
        } catch (e) { /* storage disabled */ }
        return { origin: window.location.origin, entries: entries };
    })()`
	if err := chromedp.Evaluate(script, &result).Do(ctx); err != nil {
		return "", nil, err
	}
	return result.Origin, result.Entries, nil
}

// cookiesToParams converts captured cookies into settable cookie parameters.
func cookiesToParams(cookies []*network.Cookie) []*network.CookieParam {
	params := make([]*network.CookieParam, 0, len(cookies))
	for _, c := range cookies {
		p := &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
			SameSite: c.SameSite,
		}
		if c.Expires > 0 {
			expires := cdpTimeSinceEpoch(c.Expires)
			p.Expires = &expires
		}
		params = append(params, p)
	}
	return params
}

// cdpTimeSinceEpoch converts protocol cookie expiry seconds to the wire type.
func cdpTimeSinceEpoch(sec float64) cdp.TimeSinceEpoch {
	t := time.Unix(int64(sec), int64((sec-math.Floor(sec))*1e9))
	return cdp.TimeSinceEpoch(t)
}

// writeStateFile writes the state atomically with owner-only permissions.
func writeStateFile(path string, state *StorageState) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("could not create state directory: %w", err)
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("could not serialize storage state: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("could not write storage state: %w", err)
	}
	return os.Rename(tmp, path)
}

// ReadStateFile loads and parses a storage state file.
func ReadStateFile(path string) (*StorageState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var state StorageState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("could not parse storage state file %s: %w", path, err)
	}
	return &state, nil
}
