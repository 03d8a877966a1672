package directory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/voicecall/internal/domain"
)

func TestLocalMemberID(t *testing.T) {
	ctx := context.Background()
	d := New(map[domain.ChatID]domain.MemberID{7: 101}, 0)

	id, err := d.LocalMemberID(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, domain.MemberID(101), id)

	_, err = d.LocalMemberID(ctx, 8)
	assert.ErrorIs(t, err, domain.ErrUnknownChat)

	d.Set(8, 102)
	id, err = d.LocalMemberID(ctx, 8)
	require.NoError(t, err)
	assert.Equal(t, domain.MemberID(102), id)
}

func TestFallbackMember(t *testing.T) {
	d := New(nil, 100)
	id, err := d.LocalMemberID(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, domain.MemberID(100), id)
}

func TestNotificationsMuted(t *testing.T) {
	d := New(nil, 0)
	assert.False(t, d.NotificationsMuted())
	d.SetNotificationsMuted(true)
	d.SetNotificationsMuted(true)
	assert.True(t, d.NotificationsMuted())
	d.SetNotificationsMuted(false)
	assert.False(t, d.NotificationsMuted())
}
