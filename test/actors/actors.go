package actors

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"dealchain/conversation"
	"dealchain/signing"
)

// Coordinator is the slice of the signing service the actors drive.
type Coordinator interface {
	GetOrCreate(ctx context.Context, conversationID string, itemID int64) (signing.Case, error)
	Sign(ctx context.Context, params signing.ActionParams) (signing.Case, error)
	Undo(ctx context.Context, params signing.ActionParams) (signing.Case, error)
	StatusOf(ctx context.Context, conversationID string) (signing.Status, error)
}

// Signer repeatedly signs as one party. Transient database errors are
// tolerated (the chaos actor severs backends on purpose); authorization
// failures are not, they indicate a broken invariant.
func Signer(ctx context.Context, svc Coordinator, params signing.ActionParams, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if _, err := svc.Sign(ctx, params); err != nil {
			if errors.Is(err, signing.ErrNotParty) {
				return err
			}
		}
		time.Sleep(time.Duration(10+rand.Intn(20)) * time.Millisecond)
	}
}

// Undoer repeatedly resets the case, simulating contract edits racing with
// signatures.
func Undoer(ctx context.Context, svc Coordinator, params signing.ActionParams, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if _, err := svc.Undo(ctx, params); err != nil {
			if errors.Is(err, signing.ErrNotParty) {
				return err
			}
		}
		time.Sleep(time.Duration(40+rand.Intn(80)) * time.Millisecond)
	}
}

// Creator hammers GetOrCreate for the same (conversation, item) key. The
// unique constraint must collapse all of them onto one row.
func Creator(ctx context.Context, svc Coordinator, conversationID string, itemID int64, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		_, _ = svc.GetOrCreate(ctx, conversationID, itemID)
		time.Sleep(time.Duration(5+rand.Intn(15)) * time.Millisecond)
	}
}

// Reader polls StatusOf and checks the value is a member of the closed enum.
// ErrCaseNotFound is legal early on, before the first create lands.
func Reader(ctx context.Context, svc Coordinator, conversationID string, stop <-chan struct{}) error {
	valid := map[signing.Status]bool{
		signing.StatusPendingBoth:   true,
		signing.StatusPendingBuyer:  true,
		signing.StatusPendingSeller: true,
		signing.StatusCompleted:     true,
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		status, err := svc.StatusOf(ctx, conversationID)
		if err == nil && !valid[status] {
			return errors.New("actors: status outside the enum: " + string(status))
		}
		time.Sleep(time.Duration(10+rand.Intn(30)) * time.Millisecond)
	}
}

// SignParams builds the per-role ActionParams for a seeded conversation.
func SignParams(conv conversation.Conversation, role conversation.Role, device string) signing.ActionParams {
	principal := conv.SellerID
	if role == conversation.RoleBuyer {
		principal = conv.BuyerID
	}
	return signing.ActionParams{
		ConversationID: conv.ID,
		ItemID:         conv.ItemID,
		Role:           role,
		DeviceInfo:     device,
		PrincipalID:    principal,
	}
}
