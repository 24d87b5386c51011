package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// TemplateLoader syncs custom templates from a directory of YAML files into a
// Store. The file stem is used as the template id when none is given.
type TemplateLoader struct {
	dir    string
	store  Store
	logger *slog.Logger

	mu     sync.Mutex
	byFile map[string]string // path -> template id
}

// NewTemplateLoader creates a loader for dir. A nil logger uses slog.Default.
func NewTemplateLoader(dir string, store Store, logger *slog.Logger) *TemplateLoader {
	if logger == nil {
		logger = slog.Default()
	}
	return &TemplateLoader{dir: dir, store: store, logger: logger, byFile: make(map[string]string)}
}

// ParseTemplateFile reads one template definition.
func ParseTemplateFile(path string) (*Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read template %s: %w", path, err)
	}
	var tpl Template
	if err := yaml.Unmarshal(data, &tpl); err != nil {
		return nil, fmt.Errorf("parse template %s: %w", path, err)
	}
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if tpl.ID == "" {
		tpl.ID = stem
	}
	if tpl.Name == "" {
		tpl.Name = titleFromStem(stem)
	}
	if err := tpl.Validate(); err != nil {
		return nil, fmt.Errorf("template %s: %w", path, err)
	}
	return &tpl, nil
}

// titleFromStem turns "api_endpoint-v2" into "Api Endpoint V2".
func titleFromStem(stem string) string {
	words := strings.FieldsFunc(stem, func(r rune) bool { return r == '_' || r == '-' || r == '.' })
	return cases.Title(language.English).String(strings.Join(words, " "))
}

func isTemplateFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// Load parses every template file in the directory and saves it. Invalid
// files and built-in id clashes are logged and skipped; the count of saved
// templates is returned.
func (l *TemplateLoader) Load(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return 0, fmt.Errorf("read template dir %s: %w", l.dir, err)
	}
	saved := 0
	for _, e := range entries {
		if e.IsDir() || !isTemplateFile(e.Name()) {
			continue
		}
		if err := l.loadFile(ctx, filepath.Join(l.dir, e.Name())); err != nil {
			l.logger.Warn("template load skipped", "file", e.Name(), "error", err)
			continue
		}
		saved++
	}
	return saved, nil
}

func (l *TemplateLoader) loadFile(ctx context.Context, path string) error {
	tpl, err := ParseTemplateFile(path)
	if err != nil {
		return err
	}
	if err := l.store.SaveTemplate(ctx, tpl); err != nil {
		return err
	}
	l.mu.Lock()
	l.byFile[path] = tpl.ID
	l.mu.Unlock()
	l.logger.Debug("template loaded", "id", tpl.ID, "file", path)
	return nil
}

func (l *TemplateLoader) removeFile(ctx context.Context, path string) {
	l.mu.Lock()
	id, ok := l.byFile[path]
	delete(l.byFile, path)
	l.mu.Unlock()
	if !ok {
		return
	}
	if err := l.store.DeleteTemplate(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
		l.logger.Warn("template delete failed", "id", id, "error", err)
		return
	}
	l.logger.Info("template removed", "id", id, "file", path)
}

// Watch loads the directory and then applies file changes until ctx is
// cancelled. Created or written files are (re)saved; removed or renamed
// files delete the template they defined.
func (l *TemplateLoader) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(l.dir); err != nil {
		return fmt.Errorf("watch %s: %w", l.dir, err)
	}
	if _, err := l.Load(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isTemplateFile(ev.Name) {
				continue
			}
			switch {
			case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
				if err := l.loadFile(ctx, ev.Name); err != nil {
					l.logger.Warn("template reload failed", "file", ev.Name, "error", err)
				}
			case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
				l.removeFile(ctx, ev.Name)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			l.logger.Warn("template watcher error", "error", err)
		}
	}
}
