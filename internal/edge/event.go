package edge

// Lambda@Edge viewer-request event shapes. aws-lambda-go ships no types
// for CloudFront events, so the subset this handler touches is declared
// here, matching the documented event structure.
//
// https://docs.aws.amazon.com/AmazonCloudFront/latest/DeveloperGuide/lambda-event-structure.html

// RequestEvent is the top-level Lambda@Edge event payload.
type RequestEvent struct {
	Records []RequestEventRecord `json:"Records"`
}

// RequestEventRecord wraps a single CloudFront request record.
type RequestEventRecord struct {
	CF RecordBody `json:"cf"`
}

// RecordBody carries the distribution config and the request itself.
type RecordBody struct {
	Config  DistributionConfig `json:"config"`
	Request Request            `json:"request"`
}

// DistributionConfig identifies the distribution and event type.
type DistributionConfig struct {
	DistributionDomainName string `json:"distributionDomainName"`
	DistributionID         string `json:"distributionId"`
	EventType              string `json:"eventType"`
	RequestID              string `json:"requestId"`
}

// Request is the mutable viewer request. Returning it from the handler
// (modified) tells CloudFront to continue processing with the new URI and
// query string.
type Request struct {
	ClientIP    string              `json:"clientIp"`
	Method      string              `json:"method"`
	URI         string              `json:"uri"`
	QueryString string              `json:"querystring"`
	Headers     map[string][]Header `json:"headers"`
}

// Header is one CloudFront header value. Map keys are lowercased; Key
// preserves the original casing.
type Header struct {
	Key   string `json:"key,omitempty"`
	Value string `json:"value"`
}

// HeaderValue returns the first value of a header by its lowercased name.
func (r Request) HeaderValue(name string) string {
	if values := r.Headers[name]; len(values) > 0 {
		return values[0].Value
	}
	return ""
}
