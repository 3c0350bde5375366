package harness

import (
	"context"
	"fmt"
)

// evaluate checks one assertion against the final journal and signer state.
func (h *Harness) evaluate(ctx context.Context, a Assertion) error {
	switch a.Type {
	case AssertJournalStatus:
		entry, err := h.engine.EntryByIdempotencyKey(ctx, a.Key)
		if err != nil {
			return err
		}
		if string(entry.Status) != a.Status {
			return fmt.Errorf("entry %q status = %q, want %q", a.Key, entry.Status, a.Status)
		}

	case AssertJournalNonce:
		entry, err := h.engine.EntryByIdempotencyKey(ctx, a.Key)
		if err != nil {
			return err
		}
		if entry.Nonce != a.Nonce {
			return fmt.Errorf("entry %q nonce = %d, want %d", a.Key, entry.Nonce, a.Nonce)
		}

	case AssertJournalCount:
		// Scenarios are small; one page covers every entry.
		entries, err := h.engine.RecentEntries(ctx, 1000)
		if err != nil {
			return err
		}
		if len(entries) != a.Count {
			return fmt.Errorf("journal holds %d entries, want %d", len(entries), a.Count)
		}

	case AssertSendCount:
		if n := len(h.resolver.Sends()); n != a.Count {
			return fmt.Errorf("signer broadcast %d times, want %d", n, a.Count)
		}

	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}
