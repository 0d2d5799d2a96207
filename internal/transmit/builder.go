package transmit

import (
	"context"
	"time"

	"github.com/savegress/telecare/internal/envelope"
)

// Builder assembles one outbound distribution envelope from the selected
// sources. Building is all-or-nothing: if any source fails to yield its data
// the whole build fails and no partial envelope is produced. Building never
// mutates source state.
type Builder struct {
	fetchTimeout time.Duration
}

// NewBuilder creates a Builder. fetchTimeout bounds each source's FetchData
// call; zero disables the bound.
func NewBuilder(fetchTimeout time.Duration) *Builder {
	return &Builder{fetchTimeout: fetchTimeout}
}

// Build constructs an envelope holding one payload per source, in the order
// given. Addressing is taken from cfg, resolved by the caller at run entry.
// An empty source list returns (nil, nil): nothing to send is not an error.
func (b *Builder) Build(ctx context.Context, cfg Config, sources []Source) (*envelope.Envelope, error) {
	if len(sources) == 0 {
		return nil, nil
	}

	env := envelope.New()
	env.AddIdentity(cfg.AuditIdentity)
	env.AddRecipient(cfg.RecipientAddress)
	env.AddSender(cfg.SenderAddress)
	env.SetService(Service)
	env.AddHandling(envelope.KeyInteractionID, Interaction)

	for _, src := range sources {
		data, err := b.fetch(ctx, src)
		if err != nil {
			return nil, &DataFetchError{SourceID: src.ID(), Err: err}
		}
		env.AddPayload(envelope.ContentTypeCSV, data, src.ProfileID())
	}

	return env, nil
}

func (b *Builder) fetch(ctx context.Context, src Source) ([]byte, error) {
	if b.fetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.fetchTimeout)
		defer cancel()
	}
	return src.FetchData(ctx)
}
