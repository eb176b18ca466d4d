package domainpolicy

import (
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatchFile watches configPath for writes and reloads the resolver's file
// config on change, debounced. Blocks until stop is closed.
func (r *Resolver) WatchFile(configPath string, stop <-chan struct{}) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(configPath); err != nil {
		return err
	}

	const debounce = 500 * time.Millisecond
	var timer *time.Timer
	reload := func() {
		data, err := os.ReadFile(configPath)
		if err != nil {
			r.log.Warn().Err(err).Str("path", configPath).Msg("domain policy reload: read failed")
			return
		}
		fc, err := LoadFileConfig(data)
		if err != nil {
			r.log.Warn().Err(err).Str("path", configPath).Msg("domain policy reload: parse failed")
			return
		}
		if err := r.Reload(fc); err != nil {
			r.log.Warn().Err(err).Msg("domain policy reload: override refresh failed")
			return
		}
		r.log.Info().Str("path", configPath).Msg("domain policy reloaded")
	}

	for {
		select {
		case <-stop:
			return nil
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(debounce, reload)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			r.log.Warn().Err(err).Msg("domain policy watch error")
		}
	}
}
