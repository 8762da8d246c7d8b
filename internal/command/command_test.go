package command

import (
	"bufio"
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendWritesLine(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()

	ch := New(w, nil)
	defer ch.Close()

	require.NoError(t, ch.Send(context.Background(), "join -b 10.0.0.5 5050"))
	require.NoError(t, ch.Send(context.Background(), "insert Hey_Jude Hey_Jude"))

	br := bufio.NewReader(r)
	line, err := br.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "join -b 10.0.0.5 5050\n", line)

	line, err = br.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "insert Hey_Jude Hey_Jude\n", line)
}

func TestSendRejectsMultiline(t *testing.T) {
	_, w, err := os.Pipe()
	require.NoError(t, err)

	ch := New(w, nil)
	defer ch.Close()

	err = ch.Send(context.Background(), "insert a a\ninsert b b")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrChannelBroken)
	assert.False(t, ch.Broken())
}

func TestSendAfterExit(t *testing.T) {
	_, w, err := os.Pipe()
	require.NoError(t, err)

	exited := make(chan struct{})
	close(exited)

	ch := New(w, exited)
	defer ch.Close()

	start := time.Now()
	err = ch.Send(context.Background(), "insert k v")
	assert.ErrorIs(t, err, ErrChannelBroken)
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	// 以降の送信も即座に失敗する
	assert.ErrorIs(t, ch.Send(context.Background(), "join"), ErrChannelBroken)
	assert.True(t, ch.Broken())
}

func TestSendToClosedReader(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	require.NoError(t, r.Close())

	ch := New(w, nil)
	defer ch.Close()

	err = ch.Send(context.Background(), "join")
	assert.ErrorIs(t, err, ErrChannelBroken)
}

func TestSendAfterClose(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()

	ch := New(w, nil)
	require.NoError(t, ch.Close())
	// 二重Closeは無害
	_ = ch.Close()

	assert.ErrorIs(t, ch.Send(context.Background(), "join"), ErrChannelBroken)
}

func TestSendWriteTimeout(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()

	ch := New(w, nil)
	defer ch.Close()
	ch.SetWriteTimeout(200 * time.Millisecond)

	// 誰も読まないパイプを埋めると期限切れで壊れたチャネルになる
	payload := make([]byte, 4096)
	for i := range payload {
		payload[i] = 'x'
	}
	line := "insert " + string(payload) + " v"

	start := time.Now()
	var sendErr error
	for i := 0; i < 1000 && sendErr == nil; i++ {
		sendErr = ch.Send(context.Background(), line)
	}
	assert.ErrorIs(t, sendErr, ErrChannelBroken)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestSendCanceledContext(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()

	ch := New(w, nil)
	defer ch.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, ch.Send(ctx, "join"), context.Canceled)
	assert.False(t, ch.Broken())
}
