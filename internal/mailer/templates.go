package mailer

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/labstack/gommon/log"
)

//go:embed templates/*.html
var embedded embed.FS

const verificationTemplate = "verification.html"

type VerificationData struct {
	SiteName      string
	LogoURL       string
	Name          string
	Code          string
	CustomMessage string
	ValidMinutes  int
}

// Templates renders email bodies. Bodies come from the embedded defaults
// unless a directory is given, in which case it can be watched for edits.
type Templates struct {
	mu        sync.RWMutex
	dir       string
	templates *template.Template
	watcher   *fsnotify.Watcher
}

func NewTemplates(dir string) (*Templates, error) {
	t := &Templates{dir: dir}
	if err := t.load(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Templates) load() error {
	var (
		parsed *template.Template
		err    error
	)
	if t.dir == "" {
		parsed, err = template.ParseFS(embedded, "templates/*.html")
	} else {
		parsed, err = template.ParseGlob(filepath.Join(t.dir, "*.html"))
	}
	if err != nil {
		return fmt.Errorf("parsing email templates: %w", err)
	}
	t.mu.Lock()
	t.templates = parsed
	t.mu.Unlock()
	return nil
}

func (t *Templates) RenderVerification(data VerificationData) (string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var buf bytes.Buffer
	if err := t.templates.ExecuteTemplate(&buf, verificationTemplate, data); err != nil {
		return "", fmt.Errorf("rendering %s: %w", verificationTemplate, err)
	}
	return buf.String(), nil
}

// Watch reloads the templates whenever a file in the directory is written.
func (t *Templates) Watch() error {
	if t.dir == "" {
		return nil
	}

	var err error
	t.watcher, err = fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}

	go func() {
		for {
			select {
			case event, ok := <-t.watcher.Events:
				if !ok {
					return
				}
				if event.Has(fsnotify.Write) {
					log.Infof("email template modified: %s", event.Name)
					if err := t.load(); err != nil {
						log.Errorf("reloading email templates: %+v", err)
					}
				}
			case err, ok := <-t.watcher.Errors:
				if !ok {
					return
				}
				log.Errorf("watcher: %+v", err)
			}
		}
	}()

	if err := t.watcher.Add(t.dir); err != nil {
		return fmt.Errorf("watching %s: %w", t.dir, err)
	}
	return nil
}

func (t *Templates) Close() {
	if t.watcher != nil {
		t.watcher.Close()
	}
}
