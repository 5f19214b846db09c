package replica

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/nexd-io/nexd/pkg/errdefs"
)

// Identity is the parsed form of a replica URI. It is immutable after
// parsing; children are deduplicated by its canonical string form.
type Identity struct {
	Scheme string
	Host   string
	Path   string
	Query  url.Values

	canonical string
}

// Parse validates and canonicalizes a replica URI such as
// file:///var/lib/nexd/r1.img?blk=4096 or mem:///scratch?size=1048576.
func Parse(raw string) (Identity, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Identity{}, fmt.Errorf("invalid replica uri %q: %w", raw, err)
	}
	if u.Scheme == "" {
		return Identity{}, fmt.Errorf("replica uri %q has no scheme: %w", raw, errdefs.ErrChildUnavailable)
	}
	if u.Path == "" && u.Host == "" {
		return Identity{}, fmt.Errorf("replica uri %q has no target: %w", raw, errdefs.ErrChildUnavailable)
	}

	id := Identity{
		Scheme: u.Scheme,
		Host:   u.Host,
		Path:   u.Path,
		Query:  u.Query(),
	}
	canon := url.URL{
		Scheme:   u.Scheme,
		Host:     u.Host,
		Path:     u.Path,
		RawQuery: u.Query().Encode(),
	}
	id.canonical = canon.String()
	return id, nil
}

// String returns the canonical URI.
func (id Identity) String() string {
	return id.canonical
}

// uintQuery returns a numeric query parameter or the default when absent.
func (id Identity) uintQuery(key string, def uint64) (uint64, error) {
	v := id.Query.Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("replica uri parameter %s=%q: %w", key, v, err)
	}
	return n, nil
}

// BlockSize returns the block size encoded in the URI, defaulting to 512.
func (id Identity) BlockSize() (uint32, error) {
	n, err := id.uintQuery("blk", 512)
	if err != nil {
		return 0, err
	}
	return uint32(n), nil
}
