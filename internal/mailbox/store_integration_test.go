//go:build integration

package mailbox

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailflow/internal/testinfra"
	apperrors "mailflow/pkg/errors"
	"mailflow/pkg/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db := testinfra.Postgres(t)
	require.NoError(t, Migrate(db))
	return NewStore(db)
}

func TestStoreUsers(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	bob := models.MustParseAddress("Bob@Example.com")

	exists, err := store.Exists(ctx, bob)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, store.CreateUser(ctx, bob))

	exists, err = store.Exists(ctx, models.MustParseAddress("bob@example.com"))
	require.NoError(t, err)
	assert.True(t, exists)

	err = store.CreateUser(ctx, bob)
	assert.True(t, apperrors.IsConflict(err))
}

func TestStoreDeliver(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	bob := models.MustParseAddress("bob@example.com")
	require.NoError(t, store.CreateUser(ctx, bob))

	mail := models.NewMailBuilder().
		WithID("m1").
		WithSender("alice@remote.org").
		WithRecipients("bob@example.com").
		WithText("Lunch", "Noon?").
		Build()

	require.NoError(t, store.Deliver(ctx, bob, mail))
	// Redelivery after a crash does not duplicate the message.
	require.NoError(t, store.Deliver(ctx, bob, mail))

	messages, err := store.Messages(ctx, bob, 10)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "m1", messages[0].MailID)
	assert.Equal(t, "alice@remote.org", messages[0].Sender)
	assert.Equal(t, "Lunch", messages[0].Subject)
	assert.Equal(t, mail.Size(), messages[0].Size)
}

func TestStoreDeliverUnknownMailbox(t *testing.T) {
	store := newTestStore(t)
	mail := models.NewMailBuilder().WithID("m1").WithRecipients("carol@example.com").WithText("s", "b").Build()

	err := store.Deliver(context.Background(), models.MustParseAddress("carol@example.com"), mail)
	assert.True(t, apperrors.IsNotFound(err))
}
