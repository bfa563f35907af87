package paapi

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
)

const (
	service      = "ProductAdvertisingAPI"
	contentType  = "application/json; charset=utf-8"
	searchTarget = "com.amazon.paapi5.v1.ProductAdvertisingAPIv1.SearchItems"
)

// signer adds the PA-API headers and an AWS Signature Version 4.
type signer struct {
	creds  aws.Credentials
	region string
	v4     *v4.Signer
}

func newSigner(accessKey, secretKey, region string) signer {
	return signer{
		creds:  aws.Credentials{AccessKeyID: accessKey, SecretAccessKey: secretKey},
		region: region,
		v4:     v4.NewSigner(),
	}
}

// sign sets the PA-API headers on req, including Authorization, for body at now.
func (s signer) sign(ctx context.Context, req *http.Request, body []byte, now time.Time) error {
	req.Header.Set("Content-Encoding", "amz-1.0")
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Amz-Target", searchTarget)

	sum := sha256.Sum256(body)
	if err := s.v4.SignHTTP(ctx, s.creds, req, hex.EncodeToString(sum[:]), service, s.region, now.UTC()); err != nil {
		return fmt.Errorf("signing request: %w", err)
	}
	return nil
}
