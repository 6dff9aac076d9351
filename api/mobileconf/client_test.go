package mobileconf

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/escrow-tf/tradeoffers/api"
	"github.com/escrow-tf/tradeoffers/confirmation"
	"github.com/escrow-tf/tradeoffers/steamid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedSigner struct{}

func (fixedSigner) Now() time.Time {
	return time.Unix(1700000000, 0)
}

func (fixedSigner) Sign(_ time.Time, tag string) (string, error) {
	return "signed-" + tag, nil
}

const listBody = `{"success":true,"conf":[{"type":2,"type_name":"Trade Offer","id":"13741912345","nonce":"9876543210","creator_id":"6578401234","creation_time":1700000000,"headline":"someone","summary":["You will give up 1 item"]}]}`

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewClient(api.NewTransport(api.HttpTransportOptions{RetryMax: 1}), fixedSigner{}, steamid.FromAccountID(22202))
	client.BaseURL = server.URL
	return client
}

func TestGetList(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/mobileconf/getlist", r.URL.Path)
		query := r.URL.Query()
		assert.Equal(t, "signed-list", query.Get("k"))
		assert.Equal(t, "list", query.Get("tag"))
		assert.Equal(t, "76561197960287930", query.Get("a"))
		assert.Equal(t, "1700000000", query.Get("t"))
		assert.Equal(t, "react", query.Get("m"))
		assert.NotEmpty(t, query.Get("p"))
		_, _ = w.Write([]byte(listBody))
	})

	pending, err := Surface{Api: client}.Pending(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1)

	p := pending[0]
	assert.Equal(t, uint64(13741912345), p.ID)
	assert.Equal(t, "9876543210", p.Nonce)
	assert.Equal(t, confirmation.TradeKind, p.Kind)
	offerID, ok := p.OfferID()
	assert.True(t, ok)
	assert.Equal(t, uint64(6578401234), offerID)
}

func TestGetListNeedsAuthIsFatal(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":false,"needauth":true}`))
	})

	_, err := client.GetList(context.Background())
	assert.True(t, api.IsFatal(err), "%v", err)
}

func TestRespond(t *testing.T) {
	var stillListed atomic.Bool
	var opSucceeds atomic.Bool
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/mobileconf/ajaxop":
			query := r.URL.Query()
			assert.Equal(t, "allow", query.Get("op"))
			assert.Equal(t, "13741912345", query.Get("cid"))
			assert.Equal(t, "9876543210", query.Get("ck"))
			assert.Equal(t, "signed-allow", query.Get("k"))
			if opSucceeds.Load() {
				_, _ = w.Write([]byte(`{"success":true}`))
			} else {
				_, _ = w.Write([]byte(`{"success":false,"message":"nope"}`))
			}
		case "/mobileconf/getlist":
			if stillListed.Load() {
				_, _ = w.Write([]byte(listBody))
			} else {
				_, _ = w.Write([]byte(`{"success":true,"conf":[]}`))
			}
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	surface := Surface{Api: client}
	p := confirmation.Pending{ID: 13741912345, Nonce: "9876543210", CreatorID: 6578401234, Kind: confirmation.TradeKind}

	opSucceeds.Store(true)
	outcome, err := surface.Respond(context.Background(), p, confirmation.Allow)
	require.NoError(t, err)
	assert.Equal(t, confirmation.Confirmed, outcome)

	opSucceeds.Store(false)
	outcome, err = surface.Respond(context.Background(), p, confirmation.Allow)
	require.NoError(t, err)
	assert.Equal(t, confirmation.AlreadyConfirmed, outcome)

	stillListed.Store(true)
	_, err = surface.Respond(context.Background(), p, confirmation.Allow)
	assert.Equal(t, api.RejectedKind, api.KindOf(err))
}
