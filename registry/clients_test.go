package registry

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wifip2p/models"
)

type fakeClient struct {
	id        string
	delivered []models.ServiceResponse
	pingErr   error
}

func (c *fakeClient) ID() string { return c.id }

func (c *fakeClient) Deliver(resp models.ServiceResponse) error {
	c.delivered = append(c.delivered, resp)
	return nil
}

func (c *fakeClient) Ping() error { return c.pingErr }

func TestTransactionIDSkipsZero(t *testing.T) {
	r := NewClientRegistry()
	for i := 0; i < 254; i++ {
		r.NextTransactionID()
	}
	assert.Equal(t, 255, r.NextTransactionID())
	assert.Equal(t, 1, r.NextTransactionID())
}

func TestClientRegistryAggregateAndOwner(t *testing.T) {
	r := NewClientRegistry()
	a := &fakeClient{id: "a"}
	b := &fakeClient{id: "b"}

	reqA := r.AddRequest(a, models.ServiceRequest{Protocol: models.ServiceProtocolBonjour, Query: "0b5f736572766963650c01"})
	reqB := r.AddRequest(b, models.ServiceRequest{Protocol: models.ServiceProtocolUPnP, Query: "10"})
	assert.Equal(t, 1, reqA.TransactionID)
	assert.Equal(t, 2, reqB.TransactionID)

	assert.Equal(t, reqA.SupplicantQuery()+reqB.SupplicantQuery(), r.Aggregate())

	owner, ok := r.Owner(2)
	require.True(t, ok)
	assert.Equal(t, "b", owner.ID())
	_, ok = r.Owner(9)
	assert.False(t, ok)
}

func TestClientRegistryDropsEmptyClients(t *testing.T) {
	r := NewClientRegistry()
	c := &fakeClient{id: "c"}
	req := models.ServiceRequest{Protocol: models.ServiceProtocolAll}
	info := models.ServiceInfo{Entries: []string{"upnp 10 uuid:1"}}

	r.AddRequest(c, req)
	r.AddService(c, info)

	assert.True(t, r.RemoveRequest(c, req))
	assert.True(t, r.Contains("c"), "client still owns a service")
	assert.True(t, r.RemoveService(c, info))
	assert.False(t, r.Contains("c"))
	assert.False(t, r.RemoveService(c, info))
}

func TestClientRegistryRemoveReturnsServices(t *testing.T) {
	r := NewClientRegistry()
	c := &fakeClient{id: "c", pingErr: errors.New("gone")}
	info := models.ServiceInfo{Entries: []string{"bonjour 00 11"}}
	r.AddService(c, info)

	require.Len(t, r.Clients(), 1)
	services := r.Remove("c")
	assert.Equal(t, []models.ServiceInfo{info}, services)
	assert.Zero(t, r.Len())
}
