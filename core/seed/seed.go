// Package seed loads messengers, menus and buttons from a YAML file.
//
// Seeding is idempotent: menus are matched by title, buttons by command and
// messengers by token, so a file can be applied on every start.
package seed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/m3rciful/botengine/core/engine"
	"github.com/m3rciful/botengine/core/logger"
)

// File is the document layout.
type File struct {
	Menus      []MenuSpec      `yaml:"menus"`
	Messengers []MessengerSpec `yaml:"messengers"`
}

// MenuSpec declares a menu and its buttons in display order.
type MenuSpec struct {
	Title   string       `yaml:"title"`
	Message string       `yaml:"message"`
	Comment string       `yaml:"comment"`
	Handler string       `yaml:"handler"`
	Buttons []ButtonSpec `yaml:"buttons"`
}

// ButtonSpec declares a button. Next names the destination menu by title.
// An empty Command is derived from the menu and button titles.
type ButtonSpec struct {
	Title    string `yaml:"title"`
	Text     string `yaml:"text"`
	Command  string `yaml:"command"`
	Message  string `yaml:"message"`
	Comment  string `yaml:"comment"`
	Handler  string `yaml:"handler"`
	Next     string `yaml:"next"`
	Inline   bool   `yaml:"inline"`
	ForStaff bool   `yaml:"for_staff"`
	ForAdmin bool   `yaml:"for_admin"`
	Disabled bool   `yaml:"disabled"`
}

// MessengerSpec declares a messenger. Menu names its root menu by title.
type MessengerSpec struct {
	Title       string `yaml:"title"`
	API         string `yaml:"api"`
	Token       string `yaml:"token"`
	Proxy       string `yaml:"proxy"`
	Logo        string `yaml:"logo"`
	WelcomeText string `yaml:"welcome_text"`
	Handler     string `yaml:"handler"`
	Menu        string `yaml:"menu"`
}

// Stats counts what a run changed.
type Stats struct {
	MenusCreated      int
	ButtonsCreated    int
	MessengersCreated int
	Updated           int
}

// Load reads path and expands ${VAR} references so tokens can stay in the environment.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a seed document after environment expansion.
func Parse(data []byte) (*File, error) {
	var f File
	dec := yaml.NewDecoder(strings.NewReader(os.ExpandEnv(string(data))))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	if err := f.validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

func (f *File) validate() error {
	titles := make(map[string]struct{}, len(f.Menus))
	for _, m := range f.Menus {
		if strings.TrimSpace(m.Title) == "" {
			return errors.New("seed: menu without title")
		}
		if _, dup := titles[m.Title]; dup {
			return fmt.Errorf("seed: duplicate menu %q", m.Title)
		}
		titles[m.Title] = struct{}{}
	}
	for _, m := range f.Menus {
		for _, b := range m.Buttons {
			if b.Title == "" {
				return fmt.Errorf("seed: button without title in menu %q", m.Title)
			}
			if b.Next != "" {
				if _, ok := titles[b.Next]; !ok {
					return fmt.Errorf("seed: button %q points at unknown menu %q", b.Title, b.Next)
				}
			}
		}
	}
	for _, m := range f.Messengers {
		if m.Token == "" {
			return fmt.Errorf("seed: messenger %q has no token", m.Title)
		}
		switch engine.APIType(m.API) {
		case engine.APITelegram, engine.APIViber:
		default:
			return fmt.Errorf("seed: messenger %q has unsupported api %q", m.Title, m.API)
		}
		if m.Menu != "" {
			if _, ok := titles[m.Menu]; !ok {
				return fmt.Errorf("seed: messenger %q points at unknown menu %q", m.Title, m.Menu)
			}
		}
	}
	return nil
}

// HandlerKeys lists every handler key the document references.
func (f *File) HandlerKeys() []string {
	var keys []string
	for _, m := range f.Menus {
		keys = append(keys, m.Handler)
		for _, b := range m.Buttons {
			keys = append(keys, b.Handler)
		}
	}
	for _, m := range f.Messengers {
		keys = append(keys, m.Handler)
	}
	return keys
}

// Apply writes f into store. Existing records are updated in place.
func Apply(ctx context.Context, store engine.Store, f *File) (Stats, error) {
	var st Stats
	start := time.Now()

	menuIDs, err := applyMenus(ctx, store.Menus(), f.Menus, &st)
	if err == nil {
		err = applyButtons(ctx, store.Menus(), f.Menus, menuIDs, &st)
	}
	if err == nil {
		err = applyMessengers(ctx, store.Messengers(), f.Messengers, menuIDs, &st)
	}

	attrs := []slog.Attr{
		slog.Int("menus_created", st.MenusCreated),
		slog.Int("buttons_created", st.ButtonsCreated),
		slog.Int("messengers_created", st.MessengersCreated),
		slog.Int("updated", st.Updated),
		slog.Duration("duration", logger.Took(start)),
	}
	if err != nil {
		logger.LogEvent(ctx, logger.SEED, slog.LevelError, "seed.apply",
			append(attrs, slog.String("status", "fail"), slog.String("err", err.Error()))...)
		return st, err
	}
	logger.LogEvent(ctx, logger.SEED, slog.LevelInfo, "seed.apply", append(attrs, slog.String("status", "ok"))...)
	return st, nil
}

func applyMenus(ctx context.Context, g engine.MenuGraph, specs []MenuSpec, st *Stats) (map[string]int64, error) {
	ids := make(map[string]int64, len(specs))
	for _, spec := range specs {
		menu := &engine.Menu{Title: spec.Title, Message: spec.Message, Comment: spec.Comment, Handler: spec.Handler}
		existing, err := g.MenuByTitle(ctx, spec.Title)
		switch {
		case errors.Is(err, engine.ErrNotFound):
			if err := g.CreateMenu(ctx, menu); err != nil {
				return nil, fmt.Errorf("create menu %q: %w", spec.Title, err)
			}
			st.MenusCreated++
		case err != nil:
			return nil, fmt.Errorf("lookup menu %q: %w", spec.Title, err)
		default:
			menu.ID = existing.ID
			if *existing != *menu {
				if err := g.UpdateMenu(ctx, menu); err != nil {
					return nil, fmt.Errorf("update menu %q: %w", spec.Title, err)
				}
				st.Updated++
			}
		}
		ids[spec.Title] = menu.ID
	}
	return ids, nil
}

func applyButtons(ctx context.Context, g engine.MenuGraph, specs []MenuSpec, menuIDs map[string]int64, st *Stats) error {
	for _, menu := range specs {
		for _, spec := range menu.Buttons {
			b := engine.Button{
				Title:      spec.Title,
				Text:       spec.Text,
				Command:    spec.Command,
				Message:    spec.Message,
				Comment:    spec.Comment,
				Handler:    spec.Handler,
				NextMenuID: menuIDs[spec.Next],
				ForStaff:   spec.ForStaff,
				ForAdmin:   spec.ForAdmin,
				IsInline:   spec.Inline,
				IsActive:   !spec.Disabled,
			}
			if b.Command == "" {
				b.Command = seedCommand(menu.Title, spec.Title)
			}
			id, err := upsertButton(ctx, g, &b, st)
			if err != nil {
				return fmt.Errorf("button %q in menu %q: %w", spec.Title, menu.Title, err)
			}
			if err := g.AttachButton(ctx, menuIDs[menu.Title], id); err != nil {
				return fmt.Errorf("attach button %q to menu %q: %w", spec.Title, menu.Title, err)
			}
		}
	}
	return nil
}

func upsertButton(ctx context.Context, g engine.MenuGraph, b *engine.Button, st *Stats) (int64, error) {
	found, err := g.FindButtons(ctx, 0, b.Command)
	if err != nil {
		return 0, err
	}
	for _, existing := range found {
		if existing.Command != b.Command {
			continue
		}
		b.ID = existing.ID
		if existing != *b {
			if err := g.UpdateButton(ctx, b); err != nil {
				return 0, err
			}
			st.Updated++
		}
		return b.ID, nil
	}
	if err := g.CreateButton(ctx, b); err != nil {
		return 0, err
	}
	st.ButtonsCreated++
	return b.ID, nil
}

// seedCommand derives a stable command so reapplying a file finds the same
// button. The digest suffix keeps titles that slugify alike apart.
func seedCommand(menu, title string) string {
	base := engine.Slugify("btn-" + menu + "-" + title)
	if len(base) > 57 {
		base = strings.TrimRight(base[:57], "-_")
	}
	return base + "-" + engine.TokenHash(menu + "\x00" + title)[:6]
}

func applyMessengers(ctx context.Context, ms engine.MessengerStore, specs []MessengerSpec, menuIDs map[string]int64, st *Stats) error {
	if len(specs) == 0 {
		return nil
	}
	existing, err := ms.List(ctx)
	if err != nil {
		return fmt.Errorf("list messengers: %w", err)
	}
	byHash := make(map[string]engine.Messenger, len(existing))
	for _, m := range existing {
		byHash[m.Hash] = m
	}

	for _, spec := range specs {
		m := engine.Messenger{
			Title:       spec.Title,
			APIType:     engine.APIType(spec.API),
			Token:       spec.Token,
			Proxy:       spec.Proxy,
			Logo:        spec.Logo,
			WelcomeText: spec.WelcomeText,
			Handler:     spec.Handler,
			MenuID:      menuIDs[spec.Menu],
		}
		cur, ok := byHash[engine.TokenHash(spec.Token)]
		if !ok {
			if err := ms.Create(ctx, &m); err != nil {
				return fmt.Errorf("create messenger %q: %w", spec.Title, err)
			}
			st.MessengersCreated++
			continue
		}
		if m.Handler == "" {
			m.Handler = cur.Handler
		}
		if sameMessenger(cur, m) {
			continue
		}
		m.ID, m.Hash, m.IsActive = cur.ID, cur.Hash, cur.IsActive
		if err := ms.Update(ctx, &m); err != nil {
			return fmt.Errorf("update messenger %q: %w", spec.Title, err)
		}
		st.Updated++
	}
	return nil
}

func sameMessenger(a, b engine.Messenger) bool {
	return a.Title == b.Title && a.APIType == b.APIType && a.Token == b.Token && a.Proxy == b.Proxy &&
		a.Logo == b.Logo && a.WelcomeText == b.WelcomeText && a.Handler == b.Handler && a.MenuID == b.MenuID
}
