package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/bling0390/vivbliss-watch/config"
	"github.com/bling0390/vivbliss-watch/errs"
	"github.com/bling0390/vivbliss-watch/internal/domain/catalog"
	"github.com/bling0390/vivbliss-watch/internal/domain/outbox"
)

const (
	// mediaGroupLimit caps the number of items in one media group.
	mediaGroupLimit = 10

	ctaLabel = "查看商品"
)

// Sender renders an event payload per the configured strategy and pushes the
// resulting messages through the transport. It reads the catalog for media
// and never writes.
type Sender struct {
	media     catalog.Store
	transport Transport
}

// NewSender constructs a Sender over the catalog media reader and a transport.
func NewSender(media catalog.Store, transport Transport) *Sender {
	return &Sender{media: media, transport: transport}
}

// Send renders the payload with the requested strategy and delivers it to the
// chat. It returns the platform message ids and the strategy tag actually
// used, which differs from the request when S1 degrades to S2.
func (s *Sender) Send(ctx context.Context, strategy config.Strategy, chat string, payload outbox.Payload) ([]int64, string, error) {
	switch strategy {
	case config.StrategyMediaGroup:
		return s.sendMediaGroup(ctx, chat, payload)
	case config.StrategyText:
		return s.sendText(ctx, chat, payload)
	case config.StrategyDiff:
		return s.sendDiff(ctx, chat, payload)
	default:
		return nil, "", errs.New("sender", errs.CodeInvalid,
			errs.WithMessage(fmt.Sprintf("unknown strategy %q", strategy)))
	}
}

// sendMediaGroup implements S1: a captioned media group followed by a CTA
// message. With no media it degrades to S2 and reports the S2 tag.
func (s *Sender) sendMediaGroup(ctx context.Context, chat string, payload outbox.Payload) ([]int64, string, error) {
	items, err := s.fetchMedia(ctx, payload)
	if err != nil {
		return nil, "", err
	}
	if len(items) == 0 {
		return s.sendText(ctx, chat, payload)
	}

	items[0].Caption = buildCaption(payload.Product)
	ids, err := s.transport.SendMediaGroup(ctx, chat, items)
	if err != nil {
		return nil, "", fmt.Errorf("send media group: %w", err)
	}
	ctaID, err := s.transport.SendMessage(ctx, chat, ctaLabel, actionFor(payload.Product))
	if err != nil {
		return nil, "", fmt.Errorf("send cta: %w", err)
	}
	return append(ids, ctaID), string(config.StrategyMediaGroup), nil
}

// sendText implements S2: a single summary message with the CTA action.
func (s *Sender) sendText(ctx context.Context, chat string, payload outbox.Payload) ([]int64, string, error) {
	id, err := s.transport.SendMessage(ctx, chat, buildCaption(payload.Product), actionFor(payload.Product))
	if err != nil {
		return nil, "", fmt.Errorf("send summary: %w", err)
	}
	return []int64{id}, string(config.StrategyText), nil
}

// sendDiff implements S3: a change summary with the CTA, then the media group
// when media exist.
func (s *Sender) sendDiff(ctx context.Context, chat string, payload outbox.Payload) ([]int64, string, error) {
	lines := []string{diffLine(payload.Change), buildCaption(payload.Product)}
	id, err := s.transport.SendMessage(ctx, chat, strings.Join(lines, "\n"), actionFor(payload.Product))
	if err != nil {
		return nil, "", fmt.Errorf("send diff: %w", err)
	}
	ids := []int64{id}

	items, err := s.fetchMedia(ctx, payload)
	if err != nil {
		return nil, "", err
	}
	if len(items) > 0 {
		mediaIDs, err := s.transport.SendMediaGroup(ctx, chat, items)
		if err != nil {
			return nil, "", fmt.Errorf("send diff media: %w", err)
		}
		ids = append(ids, mediaIDs...)
	}
	return ids, string(config.StrategyDiff), nil
}

func (s *Sender) fetchMedia(ctx context.Context, payload outbox.Payload) ([]MediaItem, error) {
	rows, err := s.media.ListMedia(ctx, payload.Product.ProductKey, payload.Product.Version, mediaGroupLimit)
	if err != nil {
		return nil, fmt.Errorf("list media: %w", err)
	}
	items := make([]MediaItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, MediaItem{Source: mediaSource(row)})
	}
	return items, nil
}

// mediaSource prefers the downloaded local copy over the remote URL.
func mediaSource(row catalog.MediaRow) string {
	if row.LocalPath != nil && strings.TrimSpace(*row.LocalPath) != "" {
		return *row.LocalPath
	}
	return row.SourceURL
}

func buildCaption(product outbox.ProductSnapshot) string {
	title := "Unknown"
	if product.Title != nil && strings.TrimSpace(*product.Title) != "" {
		title = *product.Title
	}
	return strings.Join([]string{
		title,
		"Price: " + renderPrice(product.Price),
		"URL: " + product.URL,
	}, "\n")
}

// renderPrice normalises the stored amount for display. Unparseable amounts
// pass through verbatim so the caption never drops information.
func renderPrice(price *catalog.Price) string {
	if price == nil {
		return "N/A"
	}
	amount := price.Amount
	if parsed, err := decimal.NewFromString(strings.TrimSpace(amount)); err == nil {
		amount = parsed.String()
	}
	return price.Currency + amount
}

func diffLine(change outbox.Change) string {
	if len(change.ChangedFields) == 0 {
		return "更新: 内容变更"
	}
	return "更新: " + strings.Join(change.ChangedFields, ", ")
}

func actionFor(product outbox.ProductSnapshot) *Action {
	return &Action{Label: ctaLabel, URL: product.URL}
}
