package targets

import (
	"context"
	"errors"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResolver map[string][]netip.Addr

func (f fakeResolver) LookupNetIP(_ context.Context, _, host string) ([]netip.Addr, error) {
	if addrs, ok := f[host]; ok {
		return addrs, nil
	}
	return nil, errors.New("no such host")
}

func addrs(ss ...string) []netip.Addr {
	out := make([]netip.Addr, len(ss))
	for i, s := range ss {
		out[i] = netip.MustParseAddr(s)
	}
	return out
}

func TestExpand(t *testing.T) {
	r := fakeResolver{
		"scanme.example": addrs("2001:db8::1", "192.0.2.7"),
		"v6only.example": addrs("2001:db8::2"),
	}

	tests := []struct {
		name    string
		exprs   []string
		want    []netip.Addr
		wantErr bool
	}{
		{name: "single address", exprs: []string{"10.0.0.1"}, want: addrs("10.0.0.1")},
		{name: "cidr skips network and broadcast", exprs: []string{"10.0.0.0/30"}, want: addrs("10.0.0.1", "10.0.0.2")},
		{name: "slash 31 keeps both", exprs: []string{"10.0.0.0/31"}, want: addrs("10.0.0.0", "10.0.0.1")},
		{name: "slash 32", exprs: []string{"10.0.0.9/32"}, want: addrs("10.0.0.9")},
		{name: "range", exprs: []string{"10.0.0.254-10.0.1.1"}, want: addrs("10.0.0.254", "10.0.0.255", "10.0.1.0", "10.0.1.1")},
		{name: "ipv6 range", exprs: []string{"2001:db8::ff-2001:db8::101"}, want: addrs("2001:db8::ff", "2001:db8::100", "2001:db8::101")},
		{name: "ipv6 cidr keeps every address", exprs: []string{"2001:db8::/127"}, want: addrs("2001:db8::", "2001:db8::1")},
		{name: "comma list dedupes", exprs: []string{"10.0.0.1,10.0.0.1", "10.0.0.2"}, want: addrs("10.0.0.1", "10.0.0.2")},
		{name: "hostname prefers ipv4", exprs: []string{"scanme.example"}, want: addrs("192.0.2.7")},
		{name: "hostname ipv6 only", exprs: []string{"v6only.example"}, want: addrs("2001:db8::2")},
		{name: "unknown host", exprs: []string{"nope.example"}, wantErr: true},
		{name: "bad cidr", exprs: []string{"10.0.0.0/33"}, wantErr: true},
		{name: "reversed range", exprs: []string{"10.0.0.5-10.0.0.1"}, wantErr: true},
		{name: "empty", exprs: []string{" , "}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Expand(context.Background(), tt.exprs, r)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExpandPrefixTooLarge(t *testing.T) {
	_, err := ExpandPrefix(netip.MustParsePrefix("10.0.0.0/8"))
	assert.ErrorIs(t, err, ErrTooManyAddresses)
}

func TestExpandRangeTooLarge(t *testing.T) {
	_, err := Expand(context.Background(), []string{"10.0.0.0-10.255.255.255"}, nil)
	assert.ErrorIs(t, err, ErrTooManyAddresses)
}

func TestExclusions(t *testing.T) {
	x, err := NewExclusions([]string{"10.0.0.0/30, 10.0.0.9", "10.0.1.1-10.0.1.3", "2001:db8::1"}, "22,8000-8002")
	require.NoError(t, err)
	assert.False(t, x.Empty())

	for _, a := range []string{"10.0.0.0", "10.0.0.3", "10.0.0.9", "10.0.1.2", "2001:db8::1", "::ffff:10.0.0.1"} {
		assert.True(t, x.ExcludesAddr(netip.MustParseAddr(a)), a)
	}
	for _, a := range []string{"10.0.0.4", "10.0.1.4", "2001:db8::2"} {
		assert.False(t, x.ExcludesAddr(netip.MustParseAddr(a)), a)
	}

	got := x.Addrs(addrs("10.0.0.1", "10.0.0.5", "10.0.1.3", "10.0.1.7"))
	assert.Equal(t, addrs("10.0.0.5", "10.0.1.7"), got)
	assert.Equal(t, []uint16{21, 80, 8003}, x.Ports([]uint16{21, 22, 80, 8000, 8001, 8003}))
}

func TestExclusionsEmptyAndInvalid(t *testing.T) {
	var none *Exclusions
	assert.True(t, none.Empty())
	assert.False(t, none.ExcludesAddr(netip.MustParseAddr("10.0.0.1")))
	assert.Equal(t, []uint16{22}, none.Ports([]uint16{22}))

	x, err := NewExclusions([]string{" "}, "")
	require.NoError(t, err)
	assert.True(t, x.Empty())

	for _, bad := range []string{"scanme.example", "10.0.0.0/40", "10.0.0.9-10.0.0.1", "10.0.0.1-2001:db8::1"} {
		_, err := NewExclusions([]string{bad}, "")
		assert.Error(t, err, bad)
	}
	_, err = NewExclusions(nil, "http")
	assert.Error(t, err)
}

func TestParsePorts(t *testing.T) {
	tests := []struct {
		expr    string
		want    []uint16
		wantErr bool
	}{
		{expr: "80", want: []uint16{80}},
		{expr: "443,22,80,22", want: []uint16{22, 80, 443}},
		{expr: "20-23", want: []uint16{20, 21, 22, 23}},
		{expr: "1000-1002, 1", want: []uint16{1, 1000, 1001, 1002}},
		{expr: "top:3", want: []uint16{23, 80, 443}},
		{expr: "udp-top:2", want: []uint16{53, 67}},
		{expr: "0", wantErr: true},
		{expr: "65536", wantErr: true},
		{expr: "80-20", wantErr: true},
		{expr: "http", wantErr: true},
		{expr: "top:0", wantErr: true},
		{expr: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := ParsePorts(tt.expr)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParsePortsAll(t *testing.T) {
	got, err := ParsePorts("all")
	require.NoError(t, err)
	assert.Len(t, got, 65535)
	assert.Equal(t, uint16(1), got[0])
	assert.Equal(t, uint16(65535), got[len(got)-1])

	top, err := ParsePorts("top:100000")
	require.NoError(t, err)
	assert.Len(t, top, len(TopTCPPorts))
}
