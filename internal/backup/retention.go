package backup

import (
	"context"
	"fmt"
	"time"

	"github.com/chesley-web/siteops/internal/storage"
	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
)

// Usage is the result of comparing the whole backup target with its size limit.
type Usage struct {
	TotalBytes int64
	LimitBytes int64
	Objects    int
}

func (u Usage) Exceeded() bool {
	return u.LimitBytes > 0 && u.TotalBytes > u.LimitBytes
}

func (u Usage) String() string {
	return fmt.Sprintf("%s of %s", humanize.IBytes(uint64(u.TotalBytes)), humanize.IBytes(uint64(u.LimitBytes)))
}

// CheckUsage sums every object in store.
func CheckUsage(ctx context.Context, store storage.ObjectStorage, limitBytes int64) (Usage, error) {
	objects, err := store.ListObjects(ctx, "")
	if err != nil {
		return Usage{}, err
	}
	return Usage{
		TotalBytes: storage.TotalSize(objects),
		LimitBytes: limitBytes,
		Objects:    len(objects),
	}, nil
}

type RetentionResult struct {
	Deleted       []string
	DeletedBytes  int64
	RetainedBytes int64
	Retained      int
}

// AgeDays is the number of whole days between modified and now.
func AgeDays(now, modified time.Time) int {
	age := now.Sub(modified)
	if age < 0 {
		return 0
	}
	return int(age / (24 * time.Hour))
}

// ApplyRetention deletes objects under prefix whose age in whole days is
// strictly greater than days. Objects that stay are counted towards
// RetainedBytes. The first delete failure stops the pass.
func ApplyRetention(ctx context.Context, store storage.ObjectStorage, prefix string, days int, now time.Time, log zerolog.Logger) (RetentionResult, error) {
	var res RetentionResult

	objects, err := store.ListObjects(ctx, prefix)
	if err != nil {
		return res, err
	}

	for _, obj := range objects {
		if AgeDays(now, obj.LastModified) > days {
			if err := store.DeleteObject(ctx, obj.Key); err != nil {
				return res, err
			}
			log.Info().Str("key", obj.Key).Time("last_modified", obj.LastModified).Msg("Deleted old backup")
			res.Deleted = append(res.Deleted, obj.Key)
			res.DeletedBytes += obj.Size
			continue
		}
		res.Retained++
		res.RetainedBytes += obj.Size
	}
	return res, nil
}
