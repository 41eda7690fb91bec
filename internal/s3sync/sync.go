// Package s3sync mirrors one S3 prefix onto another.
package s3sync

import (
	"context"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/dspace-submission-composer/internal/config"
	"github.com/sells-group/dspace-submission-composer/pkg/s3"
)

// MetadataPrefix is the batch subfolder holding generated DSpace metadata.
// It is never synced.
const MetadataPrefix = "dspace_metadata/"

// Options configures a sync run.
type Options struct {
	DryRun      bool
	Concurrency int
	// Exclude lists prefixes, relative to the source and destination, that
	// are neither copied nor deleted.
	Exclude []string
}

// Result summarizes a sync run.
type Result struct {
	Copied    []string
	Deleted   []string
	Unchanged int
	Errors    int
}

// Sync copies new or changed objects from source to destination and deletes
// destination objects missing from source. Both are s3:// URIs.
func Sync(ctx context.Context, client s3.Client, source, destination string, opts Options) (*Result, error) {
	srcBucket, srcPrefix, err := s3.ParseURI(source)
	if err != nil {
		return nil, err
	}
	dstBucket, dstPrefix, err := s3.ParseURI(destination)
	if err != nil {
		return nil, err
	}
	srcPrefix, dstPrefix = dirPrefix(srcPrefix), dirPrefix(dstPrefix)
	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}

	log := config.Logger("s3sync").With(
		zap.String("source", source),
		zap.String("destination", destination),
		zap.Bool("dry_run", opts.DryRun),
	)

	src, err := listing(ctx, client, srcBucket, srcPrefix, opts.Exclude)
	if err != nil {
		return nil, eris.Wrapf(err, "s3sync: list %s", source)
	}
	dst, err := listing(ctx, client, dstBucket, dstPrefix, opts.Exclude)
	if err != nil {
		return nil, eris.Wrapf(err, "s3sync: list %s", destination)
	}

	res := &Result{}
	for _, rel := range sortedKeys(src) {
		if d, ok := dst[rel]; ok && d.Size == src[rel].Size && d.ETag == src[rel].ETag {
			res.Unchanged++
			continue
		}
		res.Copied = append(res.Copied, rel)
	}
	for _, rel := range sortedKeys(dst) {
		if _, ok := src[rel]; !ok {
			res.Deleted = append(res.Deleted, rel)
		}
	}

	if opts.DryRun {
		for _, rel := range res.Copied {
			log.Info("(dryrun) copy", zap.String("key", rel))
		}
		for _, rel := range res.Deleted {
			log.Info("(dryrun) delete", zap.String("key", rel))
		}
		return res, nil
	}

	var failed atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for _, rel := range res.Copied {
		g.Go(func() error {
			if err := client.Copy(gctx, srcBucket, srcPrefix+rel, dstBucket, dstPrefix+rel); err != nil {
				failed.Add(1)
				log.Error("copy failed", zap.String("key", rel), zap.Error(err))
			}
			return nil
		})
	}
	for _, rel := range res.Deleted {
		g.Go(func() error {
			if err := client.Delete(gctx, dstBucket, dstPrefix+rel); err != nil {
				failed.Add(1)
				log.Error("delete failed", zap.String("key", rel), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()

	res.Errors = int(failed.Load())
	log.Info("sync complete",
		zap.Int("copied", len(res.Copied)),
		zap.Int("deleted", len(res.Deleted)),
		zap.Int("unchanged", res.Unchanged),
		zap.Int("errors", res.Errors),
	)
	if res.Errors > 0 {
		return res, eris.Errorf("s3sync: %d operation(s) failed", res.Errors)
	}
	return res, nil
}

// listing collects objects under prefix keyed by their relative path.
func listing(ctx context.Context, client s3.Client, bucket, prefix string, exclude []string) (map[string]s3.Object, error) {
	objs, errc := client.ListObjects(ctx, bucket, s3.ListOptions{Prefix: prefix, ExcludePrefixes: exclude})
	out := make(map[string]s3.Object)
	for o := range objs {
		rel := strings.TrimPrefix(o.Key, prefix)
		if rel == "" || strings.HasSuffix(rel, "/") {
			continue
		}
		out[rel] = o
	}
	if err := <-errc; err != nil {
		return nil, err
	}
	return out, nil
}

func dirPrefix(p string) string {
	if p != "" && !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p
}

func sortedKeys(m map[string]s3.Object) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
