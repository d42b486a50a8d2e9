package namer

import (
	"context"
	"strings"
	"time"

	"github.com/Iron-Ham/warren/internal/logging"
)

const (
	// maxSlugLength bounds the name part of a branch.
	maxSlugLength = 30

	defaultTimeout = 15 * time.Second
)

// Namer names sessions. Without a client, or when the client fails, names
// are derived from the task text.
type Namer struct {
	client  Client
	logger  *logging.Logger
	timeout time.Duration
}

// New creates a namer. client may be nil.
func New(client Client, logger *logging.Logger) *Namer {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Namer{client: client, logger: logger.WithComponent("namer"), timeout: defaultTimeout}
}

// Name returns a short display name for task.
func (n *Namer) Name(ctx context.Context, task string) string {
	if n.client != nil {
		ctx, cancel := context.WithTimeout(ctx, n.timeout)
		defer cancel()

		name, err := n.client.Summarize(ctx, task)
		if err == nil {
			n.logger.Debug("generated session name", "name", name)
			return name
		}
		n.logger.Warn("failed to generate session name", "error", err.Error())
	}
	return fallbackName(task)
}

// fallbackName is the first line of the task, cut to the name limit on a
// word boundary when possible.
func fallbackName(task string) string {
	name, _, _ := strings.Cut(strings.TrimSpace(task), "\n")
	name = strings.Join(strings.Fields(name), " ")
	if len(name) <= defaultMaxNameLength {
		return name
	}
	cut := name[:defaultMaxNameLength]
	if i := strings.LastIndex(cut, " "); i > defaultMaxNameLength/2 {
		cut = cut[:i]
	}
	return cut
}

// Slugify lowercases s, replaces every non-alphanumeric ascii character with
// '-' and collapses runs of them, keeping at most 30 characters.
func Slugify(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	slug := b.String()
	if len(slug) > maxSlugLength {
		slug = slug[:maxSlugLength]
	}
	return strings.Trim(slug, "-")
}

// BranchName returns "<prefix>/<slug>-<id8>", or "<prefix>/<id8>" when name
// has no usable characters. The id suffix keeps branches of sessions with the
// same name apart.
func BranchName(prefix, name, id string) string {
	short := strings.ReplaceAll(id, "-", "")
	if len(short) > 8 {
		short = short[:8]
	}
	prefix = strings.TrimSuffix(prefix, "/")

	leaf := short
	if slug := Slugify(name); slug != "" {
		leaf = slug + "-" + short
	}
	if prefix == "" {
		return leaf
	}
	return prefix + "/" + leaf
}
