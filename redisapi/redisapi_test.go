// Copyright (c) 2024 The lua-redis-wasm developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package redisapi_test

import (
	"crypto/sha1"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fatal10110/lua-redis-wasm/codec"
	"github.com/fatal10110/lua-redis-wasm/runtime"
)

// recordingHost captures requests and serves canned reply frames.
type recordingHost struct {
	callReqs  [][]byte
	pcallReqs [][]byte
	reply     []byte
	logs      []logLine
}

type logLine struct {
	level int
	msg   string
}

func (h *recordingHost) Call(req []byte) []byte {
	h.callReqs = append(h.callReqs, req)
	return h.reply
}

func (h *recordingHost) PCall(req []byte) []byte {
	h.pcallReqs = append(h.pcallReqs, req)
	return h.reply
}

func (h *recordingHost) Log(level int, msg []byte) {
	h.logs = append(h.logs, logLine{level: level, msg: string(msg)})
}

func (h *recordingHost) Sha1Hex(data []byte) []byte {
	digest := sha1.Sum(data)
	return []byte(hex.EncodeToString(digest[:]))
}

func newHostRuntime(t *testing.T, host *recordingHost) *runtime.Runtime {
	t.Helper()
	r := runtime.New(host)
	require.NoError(t, r.Init())
	return r
}

func decodeReply(t *testing.T, buf []byte) codec.Reply {
	t.Helper()
	reply, next, err := codec.Decode(buf, 0)
	require.NoError(t, err)
	require.Equal(t, len(buf), next)
	return reply
}

func TestCallArgumentMarshalling(t *testing.T) {
	host := &recordingHost{reply: codec.AppendStatus(nil, "OK")}
	r := newHostRuntime(t, host)

	reply := decodeReply(t, r.Eval(
		[]byte("return redis.call('SET', 'key', 1, 2.5, true, false)")))
	require.Equal(t, codec.StatusReply, reply.Kind)
	assert.Equal(t, "OK", string(reply.Bulk))

	require.Len(t, host.callReqs, 1)
	items, err := codec.ParseRequest(host.callReqs[0])
	require.NoError(t, err)
	require.Len(t, items, 6)
	assert.Equal(t, "SET", string(items[0]))
	assert.Equal(t, "key", string(items[1]))
	assert.Equal(t, "1", string(items[2]))
	assert.Equal(t, "2.5", string(items[3]))
	assert.Equal(t, "1", string(items[4]))
	assert.Equal(t, "0", string(items[5]))
}

func TestCallRequiresArguments(t *testing.T) {
	r := newHostRuntime(t, &recordingHost{})
	reply := decodeReply(t, r.Eval([]byte("return redis.call()")))
	require.Equal(t, codec.ErrorReply, reply.Kind)
	assert.Contains(t, string(reply.Bulk), "requires arguments")
}

func TestCallRejectsInvalidArgumentType(t *testing.T) {
	r := newHostRuntime(t, &recordingHost{})
	reply := decodeReply(t, r.Eval([]byte("return redis.call('GET', {})")))
	require.Equal(t, codec.ErrorReply, reply.Kind)
	assert.Contains(t, string(reply.Bulk), "invalid argument")
}

func TestCallEmptyHostReply(t *testing.T) {
	r := newHostRuntime(t, &recordingHost{reply: nil})
	reply := decodeReply(t, r.Eval([]byte("return redis.call('GET', 'k')")))
	require.Equal(t, codec.ErrorReply, reply.Kind)
	assert.Contains(t, string(reply.Bulk), "empty reply from host")
}

func TestCallRaisesOnErrorReply(t *testing.T) {
	host := &recordingHost{
		reply: codec.AppendError(nil, "WRONGTYPE Operation against a key"),
	}
	r := newHostRuntime(t, host)
	reply := decodeReply(t, r.Eval([]byte("return redis.call('GET', 'k')")))
	require.Equal(t, codec.ErrorReply, reply.Kind)
	// The raise carries the error bytes verbatim, with no location prefix.
	assert.Equal(t, "WRONGTYPE Operation against a key", string(reply.Bulk))
}

func TestPCallWrapsErrorReply(t *testing.T) {
	host := &recordingHost{reply: codec.AppendError(nil, "WRONGTYPE")}
	r := newHostRuntime(t, host)
	reply := decodeReply(t, r.Eval(
		[]byte("local r = redis.pcall('GET', 'k'); return r.err")))
	require.Equal(t, codec.BulkReply, reply.Kind)
	assert.Equal(t, "WRONGTYPE", string(reply.Bulk))
}

func TestCallPCallSymmetry(t *testing.T) {
	// For every non-error reply kind, call and pcall yield identical
	// script-visible values.
	hostReplies := [][]byte{
		codec.AppendNull(nil),
		codec.AppendInt(nil, 1234),
		codec.AppendBulk(nil, []byte("payload")),
		codec.AppendStatus(nil, "MOVED"),
		codec.Reply{Kind: codec.ArrayReply, Array: []codec.Reply{
			{Kind: codec.IntReply, Int: 1},
			{Kind: codec.BulkReply, Bulk: []byte("x")},
			{Kind: codec.NullReply},
		}}.Encode(),
	}
	for _, hostReply := range hostReplies {
		host := &recordingHost{reply: hostReply}
		r := newHostRuntime(t, host)
		viaCall := r.Eval([]byte("return redis.call('CMD')"))
		require.NoError(t, r.Reset())
		viaPCall := r.Eval([]byte("return redis.pcall('CMD')"))
		assert.Equal(t, viaCall, viaPCall)
	}
}

func TestReplyConversionShapes(t *testing.T) {
	// Status replies surface as {ok=...}; arrays are 1-indexed; nulls
	// are nil.
	host := &recordingHost{
		reply: codec.Reply{Kind: codec.ArrayReply, Array: []codec.Reply{
			{Kind: codec.StatusReply, Bulk: []byte("stat")},
			{Kind: codec.NullReply},
			{Kind: codec.IntReply, Int: -5},
		}}.Encode(),
	}
	r := newHostRuntime(t, host)
	script := `
		local r = redis.call('CMD')
		return {r[1].ok, r[2] == nil and 1 or 0, r[3]}`
	reply := decodeReply(t, r.Eval([]byte(script)))
	require.Equal(t, codec.ArrayReply, reply.Kind)
	require.Len(t, reply.Array, 3)
	assert.Equal(t, "stat", string(reply.Array[0].Bulk))
	assert.Equal(t, int64(1), reply.Array[1].Int)
	assert.Equal(t, int64(-5), reply.Array[2].Int)
}

func TestCallMalformedHostReply(t *testing.T) {
	for _, bad := range [][]byte{
		{0x01, 0x08, 0x00, 0x00, 0x00, 0x2A},
		{0x02, 0x10, 0x00, 0x00, 0x00, 'x'},
	} {
		host := &recordingHost{reply: bad}
		r := newHostRuntime(t, host)
		reply := decodeReply(t, r.Eval([]byte("return redis.call('CMD')")))
		require.Equal(t, codec.ErrorReply, reply.Kind)
		assert.Contains(t, string(reply.Bulk), "reply decoding failed")
	}

	host := &recordingHost{reply: []byte{0x07, 0x00, 0x00, 0x00, 0x00}}
	r := newHostRuntime(t, host)
	reply := decodeReply(t, r.Eval([]byte("return redis.call('CMD')")))
	require.Equal(t, codec.ErrorReply, reply.Kind)
	assert.Contains(t, string(reply.Bulk), "unknown reply type")
}

func TestPCallDecodeFailureStillRaises(t *testing.T) {
	host := &recordingHost{reply: []byte{0x01, 0x08, 0x00, 0x00, 0x00}}
	r := newHostRuntime(t, host)
	reply := decodeReply(t, r.Eval(
		[]byte("local r = redis.pcall('CMD'); return 'unreached'")))
	require.Equal(t, codec.ErrorReply, reply.Kind)
	assert.Contains(t, string(reply.Bulk), "reply decoding failed")
}

func TestLog(t *testing.T) {
	host := &recordingHost{}
	r := newHostRuntime(t, host)
	decodeReply(t, r.Eval([]byte("redis.log(redis.LOG_WARNING, 'attention')")))
	require.Len(t, host.logs, 1)
	assert.Equal(t, 3, host.logs[0].level)
	assert.Equal(t, "attention", host.logs[0].msg)
}

func TestLogRequiresLevelAndMessage(t *testing.T) {
	host := &recordingHost{}
	r := newHostRuntime(t, host)
	reply := decodeReply(t, r.Eval([]byte("redis.log(1)")))
	require.Equal(t, codec.ErrorReply, reply.Kind)
	assert.Contains(t, string(reply.Bulk), "requires level and message")
	assert.Empty(t, host.logs)
}

func TestLogConstants(t *testing.T) {
	r := newHostRuntime(t, &recordingHost{})
	reply := decodeReply(t, r.Eval([]byte(
		"return {redis.LOG_DEBUG, redis.LOG_VERBOSE, redis.LOG_NOTICE, redis.LOG_WARNING}")))
	require.Equal(t, codec.ArrayReply, reply.Kind)
	require.Len(t, reply.Array, 4)
	for i, want := range []int64{0, 1, 2, 3} {
		assert.Equal(t, want, reply.Array[i].Int)
	}
}

func TestSha1Hex(t *testing.T) {
	r := newHostRuntime(t, &recordingHost{})
	reply := decodeReply(t, r.Eval([]byte("return redis.sha1hex('')")))
	require.Equal(t, codec.BulkReply, reply.Kind)
	assert.Equal(t, "da39a3ee5e6b4b0d3255bfef95601890afd80709", string(reply.Bulk))
}

func TestSha1HexHostFailure(t *testing.T) {
	// A host with no hash support returns no buffer.
	r := runtime.New(nilHost{})
	require.NoError(t, r.Init())
	reply := decodeReply(t, r.Eval([]byte("return redis.sha1hex('x')")))
	require.Equal(t, codec.ErrorReply, reply.Kind)
	assert.Contains(t, string(reply.Bulk), "sha1hex failed")
}

type nilHost struct{}

func (nilHost) Call(req []byte) []byte  { return nil }
func (nilHost) PCall(req []byte) []byte { return nil }
func (nilHost) Log(int, []byte)         {}
func (nilHost) Sha1Hex([]byte) []byte   { return nil }

func TestErrorAndStatusReplyHelpers(t *testing.T) {
	r := newHostRuntime(t, &recordingHost{})
	reply := decodeReply(t, r.Eval([]byte("return redis.error_reply('My Error')")))
	require.Equal(t, codec.ErrorReply, reply.Kind)
	assert.Equal(t, "My Error", string(reply.Bulk))

	reply = decodeReply(t, r.Eval([]byte("return redis.status_reply('Good')")))
	require.Equal(t, codec.StatusReply, reply.Kind)
	assert.Equal(t, "Good", string(reply.Bulk))
}

func TestSetResp(t *testing.T) {
	r := newHostRuntime(t, &recordingHost{})
	reply := decodeReply(t, r.Eval(
		[]byte("local a = redis.setresp(3); local b = redis.setresp(2); return {a, b}")))
	require.Equal(t, codec.ArrayReply, reply.Kind)
	require.Len(t, reply.Array, 2)
	assert.Equal(t, int64(2), reply.Array[0].Int)
	assert.Equal(t, int64(3), reply.Array[1].Int)
}
