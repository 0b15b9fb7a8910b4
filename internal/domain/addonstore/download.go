package addonstore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/addonhost/backend/internal/shared/types"
	"github.com/GriffinCanCode/addonhost/backend/internal/shared/utils"
)

// DownloadForReview fetches the package of listingID. When the listing
// carries a checksum the bytes are verified against it.
func (c *Client) DownloadForReview(ctx context.Context, listingID string) ([]byte, error) {
	listing, err := c.GetListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if listing.DownloadURL == "" {
		return nil, types.NewPackageError(types.Malformed, "listing has no download url", nil)
	}
	target, err := c.resolveDownload(listing.DownloadURL)
	if err != nil {
		return nil, types.NewPackageError(types.Malformed, "invalid download url", err)
	}

	resp, err := c.do(ctx, OpDownload, func(r *resty.Request) (*resty.Response, error) {
		resp, err := r.SetDoNotParseResponse(true).
			SetHeader("Accept", "application/octet-stream").
			Get(target)
		if err == nil && resp.IsError() {
			closeBody(resp)
		}
		return resp, err
	})
	if err != nil {
		return nil, err
	}
	data, err := c.readPackage(resp)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, types.NewPackageError(types.Malformed, "empty package", errors.New("zero bytes downloaded"))
	}
	if listing.Checksum != "" {
		if err := utils.VerifyDigest(data, listing.Checksum); err != nil {
			return nil, types.NewPackageError(types.Malformed, "checksum mismatch", err)
		}
	}

	c.logger.Info("Downloaded add-on package",
		zap.String("listing_id", listingID),
		zap.String("addon_id", listing.AddonID),
		zap.String("version", listing.Version),
		zap.Int("bytes", len(data)))
	return data, nil
}

// readPackage reads the raw response body, stopping as soon as it exceeds
// the configured download limit
func (c *Client) readPackage(resp *resty.Response) ([]byte, error) {
	defer closeBody(resp)
	limit := c.cfg.MaxDownloadSize
	tooLarge := types.NewPackageError(types.Malformed, fmt.Sprintf("package exceeds %d bytes", limit), nil)
	if resp.RawResponse != nil && resp.RawResponse.ContentLength > limit {
		return nil, tooLarge
	}
	body := resp.RawBody()
	if body == nil {
		return nil, nil
	}
	data, err := io.ReadAll(io.LimitReader(body, limit+1))
	if err != nil {
		return nil, &types.StoreUnavailableError{Op: OpDownload, Err: err}
	}
	if int64(len(data)) > limit {
		return nil, tooLarge
	}
	return data, nil
}

func closeBody(resp *resty.Response) {
	if body := resp.RawBody(); body != nil {
		_ = body.Close()
	}
}
