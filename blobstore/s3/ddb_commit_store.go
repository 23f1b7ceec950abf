package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/hupe1980/olapgo/blobstore"
)

// currentName is the pointer blob the commit log intercepts. It names the
// manifest file holding the tablet's visible rowset set.
const currentName = "CURRENT"

// ErrConcurrentCommit is returned when another writer published a manifest
// between read and commit.
var ErrConcurrentCommit = errors.New("s3: concurrent manifest commit detected")

// DDBClient is the subset of the DynamoDB API the commit store uses.
type DDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// DDBCommitStore layers a DynamoDB commit log over an S3 blob store so that
// updating the tablet's CURRENT manifest pointer is an atomic
// compare-and-swap, which S3 alone cannot provide. Segment and manifest
// blobs pass straight through to S3; only the CURRENT pointer is virtual.
//
// Table schema: partition key base_uri (S), sort key commit_seq (N), plus a
// manifest_path (S) attribute. Create with:
//
//	aws dynamodb create-table \
//	  --table-name olapgo-commits \
//	  --attribute-definitions AttributeName=base_uri,AttributeType=S AttributeName=commit_seq,AttributeType=N \
//	  --key-schema AttributeName=base_uri,KeyType=HASH AttributeName=commit_seq,KeyType=RANGE \
//	  --billing-mode PAY_PER_REQUEST
type DDBCommitStore struct {
	s3Store   *Store
	ddbClient DDBClient
	tableName string
	baseURI   string
}

// NewDDBCommitStore creates the combined store. baseURI identifies the
// tablet's S3 location and serves as the commit log partition key.
func NewDDBCommitStore(s3Store *Store, ddbClient DDBClient, tableName, baseURI string) *DDBCommitStore {
	return &DDBCommitStore{
		s3Store:   s3Store,
		ddbClient: ddbClient,
		tableName: tableName,
		baseURI:   baseURI,
	}
}

// Open opens a blob; the CURRENT pointer is served from the commit log.
func (s *DDBCommitStore) Open(ctx context.Context, name string) (blobstore.Blob, error) {
	if name == currentName {
		seq, manifestPath, err := s.latestCommit(ctx)
		if err != nil {
			return nil, err
		}
		if seq == 0 {
			return nil, blobstore.ErrNotFound
		}
		return &memoryPointerBlob{content: []byte(manifestPath)}, nil
	}
	return s.s3Store.Open(ctx, name)
}

// Put writes a blob; the CURRENT pointer goes through a conditional commit.
func (s *DDBCommitStore) Put(ctx context.Context, name string, data []byte) error {
	if name == currentName {
		return s.commit(ctx, string(data))
	}
	return s.s3Store.Put(ctx, name, data)
}

// Create streams a blob into S3.
func (s *DDBCommitStore) Create(ctx context.Context, name string) (blobstore.WritableBlob, error) {
	return s.s3Store.Create(ctx, name)
}

// Delete removes a blob from S3.
func (s *DDBCommitStore) Delete(ctx context.Context, name string) error {
	return s.s3Store.Delete(ctx, name)
}

// List lists S3 blobs under the prefix.
func (s *DDBCommitStore) List(ctx context.Context, prefix string) ([]string, error) {
	return s.s3Store.List(ctx, prefix)
}

// latestCommit returns the newest commit sequence and manifest path, or
// (0, "") when the log is empty.
func (s *DDBCommitStore) latestCommit(ctx context.Context) (uint64, string, error) {
	resp, err := s.ddbClient.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("base_uri = :uri"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uri": &types.AttributeValueMemberS{Value: s.baseURI},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return 0, "", fmt.Errorf("s3: query commit log: %w", err)
	}
	if len(resp.Items) == 0 {
		return 0, "", nil
	}

	item := resp.Items[0]
	seqAttr, ok := item["commit_seq"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, "", errors.New("s3: malformed commit_seq attribute")
	}
	pathAttr, ok := item["manifest_path"].(*types.AttributeValueMemberS)
	if !ok {
		return 0, "", errors.New("s3: malformed manifest_path attribute")
	}
	seq, err := strconv.ParseUint(seqAttr.Value, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("s3: parse commit_seq: %w", err)
	}
	return seq, pathAttr.Value, nil
}

// commit appends the next commit log entry; the conditional put fails when a
// concurrent writer already claimed the sequence number.
func (s *DDBCommitStore) commit(ctx context.Context, manifestPath string) error {
	seq, _, err := s.latestCommit(ctx)
	if err != nil {
		return err
	}

	_, err = s.ddbClient.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item: map[string]types.AttributeValue{
			"base_uri":      &types.AttributeValueMemberS{Value: s.baseURI},
			"commit_seq":    &types.AttributeValueMemberN{Value: strconv.FormatUint(seq+1, 10)},
			"manifest_path": &types.AttributeValueMemberS{Value: manifestPath},
		},
		ConditionExpression: aws.String("attribute_not_exists(commit_seq)"),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return ErrConcurrentCommit
		}
		return fmt.Errorf("s3: commit manifest pointer: %w", err)
	}
	return nil
}

// memoryPointerBlob serves the virtual CURRENT pointer content.
type memoryPointerBlob struct {
	content []byte
}

func (b *memoryPointerBlob) Close() error { return nil }

func (b *memoryPointerBlob) Size() int64 { return int64(len(b.content)) }

func (b *memoryPointerBlob) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(b.content)) {
		return 0, io.EOF
	}
	n := copy(p, b.content[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}
