package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"path"
	"strconv"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/catdevman/image-transform/internal/app"
	"github.com/catdevman/image-transform/internal/config"
	"github.com/catdevman/image-transform/internal/model"
	"github.com/catdevman/image-transform/internal/processor"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
	uploadURLExpiry  = 15 * time.Minute
)

type Presigner interface {
	PresignPutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

type Lister interface {
	List(ctx context.Context, limit int32) ([]model.ProcessingRecord, error)
}

type api struct {
	presigner Presigner
	records   Lister
	bucket    string
	now       func() time.Time
}

func (a *api) handler(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayProxyResponse, error) {
	headers := map[string]string{
		"Content-Type":                 "application/json",
		"Access-Control-Allow-Origin":  "*",
		"Access-Control-Allow-Methods": "GET, POST, OPTIONS",
	}

	if req.RequestContext.HTTP.Method == "OPTIONS" {
		return events.APIGatewayProxyResponse{StatusCode: 200, Headers: headers}, nil
	}

	switch req.RequestContext.HTTP.Method + " " + req.RequestContext.HTTP.Path {

	// Presigned PUT into the source bucket; the upload triggers the transform.
	case "POST /upload-url":
		var body struct {
			Filename string `json:"filename"`
		}
		if err := json.Unmarshal([]byte(req.Body), &body); err != nil || body.Filename == "" {
			return jsonResponse(400, map[string]string{"error": "filename is required"}, headers), nil
		}
		name := path.Base(body.Filename)
		if !processor.Accepted(name) {
			return jsonResponse(400, map[string]string{"error": "unsupported file type"}, headers), nil
		}

		key := fmt.Sprintf("%d-%s", a.now().Unix(), name)
		presigned, err := a.presigner.PresignPutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(a.bucket),
			Key:    aws.String(key),
		}, s3.WithPresignExpires(uploadURLExpiry))
		if err != nil {
			return jsonResponse(500, map[string]string{"error": err.Error()}, headers), nil
		}

		return jsonResponse(200, map[string]string{
			"uploadUrl": presigned.URL,
			"key":       key,
		}, headers), nil

	case "GET /records":
		limit := defaultListLimit
		if s := req.QueryStringParameters["limit"]; s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n <= 0 {
				return jsonResponse(400, map[string]string{"error": "limit must be a positive integer"}, headers), nil
			}
			limit = min(n, maxListLimit)
		}

		records, err := a.records.List(ctx, int32(limit))
		if err != nil {
			return jsonResponse(500, map[string]string{"error": err.Error()}, headers), nil
		}
		if records == nil {
			records = []model.ProcessingRecord{}
		}
		return jsonResponse(200, records, headers), nil
	}

	return jsonResponse(404, map[string]string{"error": "Not Found"}, headers), nil
}

func jsonResponse(status int, body interface{}, headers map[string]string) events.APIGatewayProxyResponse {
	b, _ := json.Marshal(body)
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    headers,
		Body:       string(b),
	}
}

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatal(err)
	}

	a, err := app.New(context.Background(), cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer a.Close()

	h := &api{
		presigner: s3.NewPresignClient(a.S3),
		records:   a.Records,
		bucket:    cfg.SourceBucket,
		now:       time.Now,
	}
	lambda.Start(h.handler)
}
