package aws

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/stacksmith-io/stacksmith/internal/source"
	sdk "github.com/stacksmith-io/stacksmith/pkg/provider"
)

type BucketConfig struct {
	Bucket       string            `json:"bucket"`
	ForceDestroy bool              `json:"force_destroy,omitempty"`
	Tags         map[string]string `json:"tags,omitempty"`
}

type BucketOutputs struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	ARN  string `json:"arn"`
}

func (p *Provider) planBucket(ctx context.Context, req *sdk.PlanRequest) (*sdk.PlanResponse, error) {
	var desired BucketConfig
	if err := json.Unmarshal(req.DesiredJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}
	if desired.Bucket == "" {
		return nil, fmt.Errorf("aws.s3.Bucket requires 'bucket'")
	}

	if len(req.PriorJSON) == 0 {
		return &sdk.PlanResponse{Action: sdk.ActionCreate}, nil
	}

	var prior BucketConfig
	if err := json.Unmarshal(req.PriorJSON, &prior); err != nil {
		return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
	}

	// Drift check: the bucket may be gone even though state records it.
	_, err := p.s3Client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(prior.Bucket),
	})
	if err != nil {
		var ae smithy.APIError
		if errors.As(err, &ae) && (ae.ErrorCode() == "NotFound" || ae.ErrorCode() == "NoSuchBucket") {
			return &sdk.PlanResponse{Action: sdk.ActionCreate}, nil
		}
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}

	if prior.Bucket != desired.Bucket {
		// Bucket names are immutable.
		return &sdk.PlanResponse{
			Action:            sdk.ActionReplace,
			ChangedAttributes: []string{"bucket"},
		}, nil
	}

	var changes []string
	if !tagsEqual(prior.Tags, desired.Tags) {
		changes = append(changes, "tags")
	}
	if len(changes) > 0 {
		return &sdk.PlanResponse{Action: sdk.ActionUpdate, ChangedAttributes: changes}, nil
	}

	return &sdk.PlanResponse{Action: sdk.ActionNoop}, nil
}

func (p *Provider) applyBucket(ctx context.Context, req *sdk.ApplyRequest) (*sdk.ApplyResponse, error) {
	var desired BucketConfig
	if err := json.Unmarshal(req.DesiredJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// CreateBucket is idempotent when we already own the bucket.
	_, err := p.s3Client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(desired.Bucket),
	})
	if err != nil {
		var ae smithy.APIError
		if !errors.As(err, &ae) || ae.ErrorCode() != "BucketAlreadyOwnedByYou" {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	if len(desired.Tags) > 0 {
		tagging := &s3.PutBucketTaggingInput{
			Bucket:  aws.String(desired.Bucket),
			Tagging: bucketTagging(desired.Tags),
		}
		if _, err := p.s3Client.PutBucketTagging(ctx, tagging); err != nil {
			return nil, fmt.Errorf("failed to tag bucket: %w", err)
		}
	}

	outputs := BucketOutputs{
		ID:   desired.Bucket,
		Name: desired.Bucket,
		ARN:  fmt.Sprintf("arn:aws:s3:::%s", desired.Bucket),
	}
	outputsJSON, _ := json.Marshal(outputs)
	return &sdk.ApplyResponse{OutputsJSON: outputsJSON}, nil
}

func (p *Provider) destroyBucket(ctx context.Context, req *sdk.DestroyRequest) error {
	var prior BucketConfig
	if err := json.Unmarshal(req.PriorJSON, &prior); err != nil {
		return fmt.Errorf("failed to unmarshal prior state: %w", err)
	}
	if prior.Bucket == "" {
		return nil
	}

	if prior.ForceDestroy {
		if err := p.emptyBucket(ctx, prior.Bucket); err != nil {
			return err
		}
	}

	_, err := p.s3Client.DeleteBucket(ctx, &s3.DeleteBucketInput{
		Bucket: aws.String(prior.Bucket),
	})
	if err != nil {
		var ae smithy.APIError
		if errors.As(err, &ae) && ae.ErrorCode() == "NoSuchBucket" {
			return nil
		}
		return fmt.Errorf("failed to delete bucket: %w", err)
	}
	return nil
}

func (p *Provider) emptyBucket(ctx context.Context, bucket string) error {
	paginator := s3.NewListObjectsV2Paginator(p.s3Client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("failed to list objects in %s: %w", bucket, err)
		}
		for _, obj := range page.Contents {
			_, err := p.s3Client.DeleteObject(ctx, &s3.DeleteObjectInput{
				Bucket: aws.String(bucket),
				Key:    obj.Key,
			})
			if err != nil {
				return fmt.Errorf("failed to delete object %s: %w", aws.ToString(obj.Key), err)
			}
		}
	}
	return nil
}

type ObjectConfig struct {
	Bucket      string `json:"bucket"`
	Key         string `json:"key"`
	Source      string `json:"source,omitempty"` // file:// artifact
	Content     string `json:"content,omitempty"`
	ContentType string `json:"content_type,omitempty"`
}

type ObjectOutputs struct {
	ID     string `json:"id"`
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
	ETag   string `json:"etag"`
	Digest string `json:"digest"`
}

func (p *Provider) planObject(ctx context.Context, req *sdk.PlanRequest) (*sdk.PlanResponse, error) {
	var desired ObjectConfig
	if err := json.Unmarshal(req.DesiredJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}
	if desired.Bucket == "" || desired.Key == "" {
		return nil, fmt.Errorf("aws.s3.Object requires 'bucket' and 'key'")
	}
	if desired.Source != "" && desired.Content != "" {
		return nil, fmt.Errorf("aws.s3.Object accepts 'source' or 'content', not both")
	}

	if len(req.PriorJSON) == 0 {
		return &sdk.PlanResponse{Action: sdk.ActionCreate}, nil
	}

	var prior ObjectConfig
	if err := json.Unmarshal(req.PriorJSON, &prior); err != nil {
		return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
	}

	if prior.Bucket != desired.Bucket || prior.Key != desired.Key {
		return &sdk.PlanResponse{
			Action:            sdk.ActionReplace,
			ChangedAttributes: []string{"bucket", "key"},
		}, nil
	}

	var changes []string
	if prior.Content != desired.Content {
		changes = append(changes, "content")
	}
	if prior.ContentType != desired.ContentType {
		changes = append(changes, "content_type")
	}
	// Source artifact changes surface through the content digests the
	// engine computed at plan time.
	if !hashesMatch(req.PriorHashes, req.ContentHashes) {
		changes = append(changes, "source")
	}
	if len(changes) > 0 {
		return &sdk.PlanResponse{Action: sdk.ActionUpdate, ChangedAttributes: changes}, nil
	}

	return &sdk.PlanResponse{Action: sdk.ActionNoop}, nil
}

func (p *Provider) applyObject(ctx context.Context, req *sdk.ApplyRequest) (*sdk.ApplyResponse, error) {
	var desired ObjectConfig
	if err := json.Unmarshal(req.DesiredJSON, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	var body []byte
	if path, ok := source.IsRef(desired.Source); ok {
		data, err := p.src.Read(path)
		if err != nil {
			return nil, err
		}
		body = data
	} else {
		body = []byte(desired.Content)
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(desired.Bucket),
		Key:    aws.String(desired.Key),
		Body:   bytes.NewReader(body),
	}
	if desired.ContentType != "" {
		input.ContentType = aws.String(desired.ContentType)
	}

	result, err := p.s3Client.PutObject(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to put object s3://%s/%s: %w", desired.Bucket, desired.Key, err)
	}

	outputs := ObjectOutputs{
		ID:     fmt.Sprintf("s3://%s/%s", desired.Bucket, desired.Key),
		Bucket: desired.Bucket,
		Key:    desired.Key,
		ETag:   strings.Trim(aws.ToString(result.ETag), `"`),
		Digest: source.HashBytes(body),
	}
	outputsJSON, _ := json.Marshal(outputs)
	return &sdk.ApplyResponse{OutputsJSON: outputsJSON}, nil
}

func (p *Provider) destroyObject(ctx context.Context, req *sdk.DestroyRequest) error {
	var prior ObjectConfig
	if err := json.Unmarshal(req.PriorJSON, &prior); err != nil {
		return fmt.Errorf("failed to unmarshal prior state: %w", err)
	}
	if prior.Bucket == "" || prior.Key == "" {
		return nil
	}

	_, err := p.s3Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(prior.Bucket),
		Key:    aws.String(prior.Key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object s3://%s/%s: %w", prior.Bucket, prior.Key, err)
	}
	return nil
}

func bucketTagging(tags map[string]string) *s3types.Tagging {
	tagging := &s3types.Tagging{}
	for k, v := range tags {
		tagging.TagSet = append(tagging.TagSet, s3types.Tag{
			Key:   aws.String(k),
			Value: aws.String(v),
		})
	}
	return tagging
}

func tagsEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

func hashesMatch(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}
