package memo

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/gobwas/glob"
	"github.com/google/uuid"
)

const (
	// PackTimeLayout is the timestamp format of pack metadata.
	PackTimeLayout = "2006-01-02T15:04:05"

	// DefaultPackVersion is the version given to new packs.
	DefaultPackVersion = "1.0.0"

	importedTag         = "imported"
	importedDescription = "Imported from MemoChat"
)

// Pack is a shareable bundle of a system prompt, rules and seed memos.
type Pack struct {
	ID           string
	Name         string
	Description  string
	Author       string
	Version      string
	SystemPrompt string
	Rules        []Rule
	Memos        []Memo
	Tags         []string
	CreatedAt    string
	UpdatedAt    string
}

type packRule struct {
	Title            string `json:"title"`
	LegacyTitle      string `json:"description,omitempty"`
	UpdateRule       string `json:"update_rule"`
	LegacyUpdateRule string `json:"updateRule,omitempty"`
}

type packRecord struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Description  string     `json:"description"`
	Author       string     `json:"author"`
	AuthorName   string     `json:"author_name,omitempty"`
	Version      string     `json:"version"`
	SystemPrompt string     `json:"system_prompt"`
	Rules        []packRule `json:"rules"`
	Memos        []Memo     `json:"memos"`
	Tags         []string   `json:"tags"`
	CreatedAt    string     `json:"created_at"`
	UpdatedAt    string     `json:"updated_at"`
}

// NewPack creates an empty pack with a fresh ID.
func NewPack(name string, now time.Time) *Pack {
	ts := now.UTC().Format(PackTimeLayout)
	return &Pack{
		ID:        newPackID(),
		Name:      name,
		Version:   DefaultPackVersion,
		Rules:     []Rule{},
		Memos:     []Memo{},
		Tags:      []string{},
		CreatedAt: ts,
		UpdatedAt: ts,
	}
}

// PackFromRules wraps an exported rules document in a pack named after the
// file it came from.
func PackFromRules(filename string, doc *RulesDocument, now time.Time) *Pack {
	name := strings.TrimSuffix(filepath.Base(filename), ".json")
	name = strings.ReplaceAll(name, "-", " ")

	p := NewPack(name, now)
	p.Description = importedDescription
	if doc.SystemPrompt != nil {
		p.SystemPrompt = *doc.SystemPrompt
	}
	p.Rules = append(p.Rules, doc.Rules...)
	p.Tags = []string{importedTag}
	return p
}

// DecodePack reads either an exported rules document or a pack. A rules
// document becomes a new pack named after filename; a pack is given a new ID
// so it cannot overwrite an existing one.
func DecodePack(filename string, data []byte) (*Pack, error) {
	var head map[string]json.RawMessage
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}

	_, hasRules := head["rules"]
	_, hasPrompt := head["systemPrompt"]
	var id string
	if raw, ok := head["id"]; ok {
		_ = json.Unmarshal(raw, &id)
	}

	switch {
	case hasRules && hasPrompt && id == "":
		doc, err := ImportRules(data)
		if err != nil {
			return nil, err
		}
		return PackFromRules(filename, doc, time.Now()), nil
	case id != "":
		var p Pack
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
		}
		p.ID = newPackID()
		return &p, nil
	default:
		return nil, fmt.Errorf("%w: neither a rules document nor a pack", ErrInvalidDocument)
	}
}

// MarshalJSON encodes the pack in its on-disk snake_case form.
func (p Pack) MarshalJSON() ([]byte, error) {
	rec := packRecord{
		ID:           p.ID,
		Name:         p.Name,
		Description:  p.Description,
		Author:       p.Author,
		Version:      p.Version,
		SystemPrompt: p.SystemPrompt,
		Rules:        make([]packRule, len(p.Rules)),
		Memos:        p.Memos,
		Tags:         p.Tags,
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
	}
	for i, r := range p.Rules {
		rec.Rules[i] = packRule{Title: r.Title, UpdateRule: r.UpdateRule}
	}
	if rec.Memos == nil {
		rec.Memos = []Memo{}
	}
	if rec.Tags == nil {
		rec.Tags = []string{}
	}
	return json.Marshal(rec)
}

// UnmarshalJSON decodes a pack, accepting the legacy field names
// author_name, description (for a rule title) and updateRule.
func (p *Pack) UnmarshalJSON(data []byte) error {
	var rec packRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}

	*p = Pack{
		ID:           rec.ID,
		Name:         rec.Name,
		Description:  rec.Description,
		Author:       rec.Author,
		Version:      rec.Version,
		SystemPrompt: rec.SystemPrompt,
		Rules:        make([]Rule, len(rec.Rules)),
		Memos:        rec.Memos,
		Tags:         rec.Tags,
		CreatedAt:    rec.CreatedAt,
		UpdatedAt:    rec.UpdatedAt,
	}
	if p.Author == "" {
		p.Author = rec.AuthorName
	}
	for i, r := range rec.Rules {
		title := r.Title
		if title == "" {
			title = r.LegacyTitle
		}
		update := r.UpdateRule
		if update == "" {
			update = r.LegacyUpdateRule
		}
		p.Rules[i] = NewRule(title, update)
	}
	if p.Memos == nil {
		p.Memos = []Memo{}
	}
	if p.Tags == nil {
		p.Tags = []string{}
	}
	return nil
}

// AddTag adds a lower-cased, trimmed tag if it is not already present.
func (p *Pack) AddTag(tag string) bool {
	t := strings.ToLower(strings.TrimSpace(tag))
	if t == "" || slices.Contains(p.Tags, t) {
		return false
	}
	p.Tags = append(p.Tags, t)
	return true
}

// Touch sets UpdatedAt to now.
func (p *Pack) Touch(now time.Time) {
	p.UpdatedAt = now.UTC().Format(PackTimeLayout)
}

// ExportFilename returns the file name a pack is exported under.
func (p *Pack) ExportFilename() string {
	name := strings.ToLower(strings.Join(strings.Fields(p.Name), "-"))
	if name == "" {
		name = "pack"
	}
	return name + ".memomarket.json"
}

// FilterPacks returns the packs matching query and tag. The query matches
// case-insensitively against name, description, author and tags; the tag
// must match exactly. A query containing *, ?, [ or { is a glob matched
// against whole fields ("study*"); any other query is a substring. Empty
// criteria match everything.
func FilterPacks(packs []Pack, query, tag string) []Pack {
	match := queryMatcher(strings.ToLower(strings.TrimSpace(query)))
	var out []Pack
	for _, p := range packs {
		if match != nil && !p.matches(match) {
			continue
		}
		if tag != "" && !slices.Contains(p.Tags, tag) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// queryMatcher returns nil for an empty query.
func queryMatcher(q string) func(string) bool {
	if q == "" {
		return nil
	}
	if strings.ContainsAny(q, "*?[{") {
		if g, err := glob.Compile(q); err == nil {
			return g.Match
		}
	}
	return func(field string) bool {
		return strings.Contains(field, q)
	}
}

func (p *Pack) matches(match func(string) bool) bool {
	for _, field := range []string{p.Name, p.Description, p.Author} {
		if match(strings.ToLower(field)) {
			return true
		}
	}
	for _, t := range p.Tags {
		if match(strings.ToLower(t)) {
			return true
		}
	}
	return false
}

// PackTags returns the sorted set of tags used by packs.
func PackTags(packs []Pack) []string {
	var tags []string
	for _, p := range packs {
		for _, t := range p.Tags {
			if !slices.Contains(tags, t) {
				tags = append(tags, t)
			}
		}
	}
	slices.Sort(tags)
	return tags
}

func newPackID() string {
	return "pack_" + uuid.New().String()
}
