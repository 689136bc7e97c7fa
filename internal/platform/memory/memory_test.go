package memory

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omnichat/internal/models"
	"omnichat/internal/platform"
)

func TestFilesParentsAndPaths(t *testing.T) {
	ctx := context.Background()
	f := NewFiles()

	err := f.Write(ctx, "omnichat/uploads/a.txt", []byte("x"), platform.WriteOptions{})
	assert.ErrorIs(t, err, platform.ErrFileNotFound)

	require.NoError(t, f.Write(ctx, "/omnichat/uploads/a.txt", []byte("x"), platform.WriteOptions{CreateMissingParents: true}))
	data, err := f.Read(ctx, "omnichat/uploads/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "x", string(data))

	_, err = f.Read(ctx, "../etc/passwd")
	assert.ErrorIs(t, err, platform.ErrInvalidPath)
	_, err = f.Read(ctx, "omnichat/missing")
	assert.ErrorIs(t, err, platform.ErrFileNotFound)
}

func TestInferenceScriptThenEcho(t *testing.T) {
	ctx := context.Background()
	inf := NewInference(Reply{Fragments: []string{"a", "b"}, StreamErr: errors.New("cut")})
	msgs := []platform.ChatMessage{{Role: models.RoleUser, Content: "hi"}}

	s, err := inf.Chat(ctx, msgs, platform.ChatOptions{Model: "gpt-4o"})
	require.NoError(t, err)
	frag, err := s.Recv()
	require.NoError(t, err)
	assert.Equal(t, "a", frag.Text)
	_, err = s.Recv()
	require.NoError(t, err)
	_, err = s.Recv()
	assert.EqualError(t, err, "cut")
	s.Close()

	s, err = inf.Chat(ctx, msgs, platform.ChatOptions{})
	require.NoError(t, err)
	frag, err = s.Recv()
	require.NoError(t, err)
	assert.Equal(t, "You said: hi", frag.Text)
	_, err = s.Recv()
	assert.ErrorIs(t, err, io.EOF)

	calls := inf.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "gpt-4o", calls[0].Options.Model)
}

func TestIdentitySignInOut(t *testing.T) {
	ctx := context.Background()
	id := NewIdentity(models.User{Username: "ada", UID: "7"}, false)

	_, err := id.User(ctx)
	assert.ErrorIs(t, err, platform.ErrNotSignedIn)

	require.NoError(t, id.SignIn(ctx))
	u, err := id.User(ctx)
	require.NoError(t, err)
	assert.Equal(t, "7", u.UID)

	require.NoError(t, id.SignOut(ctx))
	assert.False(t, id.IsSignedIn())
}

func TestKVCountsWrites(t *testing.T) {
	ctx := context.Background()
	kv := NewKV()
	_, found, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, kv.Set(ctx, "k", "v"))
	v, found, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "v", v)
	assert.Equal(t, 1, kv.Writes())
}
