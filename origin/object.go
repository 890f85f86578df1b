package origin

import (
	"fmt"
	"net/url"
	"strings"
)

// ParseObjectURI splits scheme://bucket/key into bucket and key.
func ParseObjectURI(uri string) (bucket, key string, err error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", "", err
	}
	bucket = u.Host
	key = strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("invalid object uri %q: want scheme://bucket/key", uri)
	}
	return bucket, key, nil
}
