package store

import (
	"context"
	"encoding/hex"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/s3lite/s3lite/internal/errors"
)

// walkKeys returns every object key stored in bucket, sorted
// lexicographically, decoding the hex-encoded path segments written by
// objectDataPath back into the original key.
func (s *Store) walkKeys(bucket string) ([]string, error) {
	root := filepath.Join(s.bucketDir(bucket), "objects")
	var keys []string

	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		segs := strings.Split(filepath.ToSlash(rel), "/")
		decoded := make([]string, len(segs))
		for i, seg := range segs {
			b, decErr := hex.DecodeString(seg)
			if decErr != nil {
				return nil // skip anything that isn't ours
			}
			decoded[i] = string(b)
		}
		keys = append(keys, strings.Join(decoded, "/"))
		return nil
	})
	if err != nil {
		return nil, errors.WithStack(err)
	}

	sort.Strings(keys)
	return keys, nil
}

func (s *Store) listObjectKeysLocked(bucket, prefix, _ string) ([]string, error) {
	keys, err := s.walkKeys(bucket)
	if err != nil {
		return nil, err
	}
	if prefix == "" {
		return keys, nil
	}
	var out []string
	for _, k := range keys {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return out, nil
}

// ListResult is the collapsed result of a bucket listing: objects that
// matched prefix directly, and CommonPrefixes collapsed by delimiter.
type ListResult struct {
	Objects        []Object
	CommonPrefixes []string
	IsTruncated    bool
	NextMarker     string // last key or prefix considered, for V1 pagination
}

// listEntries walks the bucket, applies prefix/delimiter collapsing, and
// returns the matching objects and the common prefixes as two separately
// sorted slices, without yet applying marker/maxKeys — callers merge them
// (see mergedKeys) and slice the combined, sorted sequence to paginate.
func (s *Store) listEntries(bucket, prefix, delimiter string) (objects []Object, prefixes []string, err error) {
	keys, err := s.walkKeys(bucket)
	if err != nil {
		return nil, nil, err
	}

	seenPrefix := map[string]bool{}
	for _, k := range keys {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		rest := k[len(prefix):]
		if delimiter != "" {
			if idx := strings.Index(rest, delimiter); idx >= 0 {
				cp := prefix + rest[:idx+len(delimiter)]
				if !seenPrefix[cp] {
					seenPrefix[cp] = true
					prefixes = append(prefixes, cp)
				}
				continue
			}
		}
		obj, err := s.HeadObject(context.Background(), bucket, k)
		if err != nil {
			continue
		}
		objects = append(objects, *obj)
	}
	sort.Strings(prefixes)
	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	return objects, prefixes, nil
}

// mergedKeys returns the sorted union of object keys and common-prefix
// markers, used to compute pagination cut points across both.
func mergedKeys(objects []Object, prefixes []string) []string {
	all := make([]string, 0, len(objects)+len(prefixes))
	for _, o := range objects {
		all = append(all, o.Key)
	}
	all = append(all, prefixes...)
	sort.Strings(all)
	return all
}

// ListObjectsV1 implements the ListObjects (v1) bucket-listing operation:
// keys and common prefixes strictly greater than marker, up to maxKeys
// entries. NextMarker is populated only when the listing is delimited and
// truncated, set to the last key or common prefix returned; MaxKeys=0
// always yields an empty, untruncated page with no NextMarker.
func (s *Store) ListObjectsV1(_ context.Context, bucket, prefix, marker, delimiter string, maxKeys int) (*ListResult, error) {
	if maxKeys == 0 {
		return &ListResult{}, nil
	}

	objects, prefixes, err := s.listEntries(bucket, prefix, delimiter)
	if err != nil {
		return nil, err
	}

	all := mergedKeys(objects, prefixes)
	start := sort.SearchStrings(all, marker+"\x00")
	if marker == "" {
		start = 0
	}
	end := start + maxKeys
	truncated := end < len(all)
	if !truncated {
		end = len(all)
	}
	window := map[string]bool{}
	for _, k := range all[start:end] {
		window[k] = true
	}

	res := &ListResult{IsTruncated: truncated}
	for _, o := range objects {
		if window[o.Key] {
			res.Objects = append(res.Objects, o)
		}
	}
	for _, p := range prefixes {
		if window[p] {
			res.CommonPrefixes = append(res.CommonPrefixes, p)
		}
	}
	if truncated && delimiter != "" && end > start {
		res.NextMarker = all[end-1]
	}
	return res, nil
}

// ListObjectsV2 implements the v2 bucket-listing operation: startAfter (or
// the decoded continuationToken, whichever is set) bounds the starting
// point, and the continuation token returned (in NextMarker) for a truncated
// listing is the literal last key or common prefix of the page, set whether
// or not a delimiter was given.
func (s *Store) ListObjectsV2(_ context.Context, bucket, prefix, continuationToken, startAfter, delimiter string, maxKeys int) (*ListResult, error) {
	after := startAfter
	if continuationToken != "" {
		after = continuationToken
	}

	res, err := s.ListObjectsV1(context.Background(), bucket, prefix, after, delimiter, maxKeys)
	if err != nil {
		return nil, err
	}
	if res.IsTruncated && res.NextMarker == "" && len(res.Objects) > 0 {
		res.NextMarker = res.Objects[len(res.Objects)-1].Key
	}
	return res, nil
}
