// Package main provides the Lambda@Edge viewer-request handler that
// canonicalizes incoming query parameters into the operation path segment.
// It runs on every request, cache hits included, so it does no I/O and
// creates no AWS clients: rewrite the URI, drop the query string, return.
package main

import (
	"context"
	"fmt"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/fpang/image-delivery/internal/edge"
	"github.com/fpang/image-delivery/internal/logging"
)

func init() {
	logging.Init()
}

// handleRequest rewrites /<key>?<params> into /<key>/<canonical-ops> so
// that requests differing only in parameter order, casing, or junk keys
// share one CDN cache entry. A request with no valid operations gets the
// "/original" suffix, itself a cacheable operation.
func handleRequest(ctx context.Context, evt edge.RequestEvent) (edge.Request, error) {
	if len(evt.Records) == 0 {
		return edge.Request{}, fmt.Errorf("event contains no records")
	}
	request := evt.Records[0].CF.Request
	request.URI = edge.RewritePath(request.URI, request.QueryString, request.HeaderValue("accept"))
	request.QueryString = ""
	return request, nil
}

func main() {
	lambda.Start(handleRequest)
}
