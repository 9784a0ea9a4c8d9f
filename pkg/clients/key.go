package clients

import (
	"strconv"
	"strings"

	"github.com/cfdeploy/cfdeploy/pkg/platform"
)

// Key identifies a cached client. Either Org and Space or SpaceID is set.
// CorrelationID tags the calls made through clients returned for the key but
// is not part of the identity.
type Key struct {
	Identity      string
	Org           string
	Space         string
	SpaceID       string
	CorrelationID string
}

// NewOrgSpaceKey creates a key addressing a space by organization and name.
func NewOrgSpaceKey(identity, org, space, correlationID string) Key {
	return Key{Identity: identity, Org: org, Space: space, CorrelationID: correlationID}
}

// NewSpaceKey creates a key addressing a space by id.
func NewSpaceKey(identity, spaceID, correlationID string) Key {
	return Key{Identity: identity, SpaceID: spaceID, CorrelationID: correlationID}
}

// cacheKey is the comparable cache identity. Absent components stay empty
// and byID separates the two key shapes, so an org/space key never equals a
// space-id key even when their strings coincide.
type cacheKey struct {
	identity string
	org      string
	space    string
	spaceID  string
	byID     bool
}

func (k Key) cacheKey() cacheKey {
	if k.SpaceID != "" {
		return cacheKey{identity: k.Identity, spaceID: k.SpaceID, byID: true}
	}
	return cacheKey{identity: k.Identity, org: k.Org, space: k.Space}
}

// flight returns the singleflight key for k. Components are length-prefixed
// so distinct identities cannot produce the same string.
func (c cacheKey) flight() string {
	var b strings.Builder
	for _, part := range []string{c.identity, c.org, c.space, c.spaceID} {
		b.WriteString(strconv.Itoa(len(part)))
		b.WriteByte(':')
		b.WriteString(part)
	}
	if c.byID {
		b.WriteString("#id")
	}
	return b.String()
}

// String joins the present components with "|", for logs.
func (k Key) String() string {
	var parts []string
	for _, p := range []string{k.Identity, k.Org, k.Space, k.SpaceID} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "|")
}

// Target returns the platform target the key addresses.
func (k Key) Target() platform.Target {
	return platform.Target{Org: k.Org, Space: k.Space, SpaceID: k.SpaceID}
}
