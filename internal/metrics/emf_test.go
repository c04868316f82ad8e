package metrics

import (
	"bytes"
	"encoding/json"
	"os"
	"testing"
)

func TestNewAutoDimension(t *testing.T) {
	initOnce.Do(func() {})
	functionName = "TestFunction"

	r := New("TestNamespace")
	if r.namespace != "TestNamespace" {
		t.Errorf("namespace = %q, want TestNamespace", r.namespace)
	}
	if r.dimensions["FunctionName"] != "TestFunction" {
		t.Errorf("FunctionName dimension = %q, want TestFunction", r.dimensions["FunctionName"])
	}
}

func TestFlushOutput(t *testing.T) {
	old := os.Stdout
	pr, pw, _ := os.Pipe()
	os.Stdout = pw

	initOnce.Do(func() {})
	functionName = ""

	rec := New("ImageDelivery")
	rec.Dimension("StatusCode", "200")
	rec.Metric("RequestLatencyMs", 42.5, UnitMilliseconds)
	rec.Count("RequestCount")
	rec.Property("path", "/sample/1.jpg/original")
	rec.Flush()

	pw.Close()
	os.Stdout = old

	var buf bytes.Buffer
	buf.ReadFrom(pr)

	var doc map[string]any
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("EMF output is not valid JSON: %v\nOutput: %s", err, buf.String())
	}

	if _, found := doc["_aws"]; !found {
		t.Fatal("missing _aws directive")
	}
	if doc["StatusCode"] != "200" {
		t.Errorf("StatusCode = %v, want 200", doc["StatusCode"])
	}
	if doc["RequestLatencyMs"] != 42.5 {
		t.Errorf("RequestLatencyMs = %v, want 42.5", doc["RequestLatencyMs"])
	}
	if doc["path"] != "/sample/1.jpg/original" {
		t.Errorf("path property = %v", doc["path"])
	}
}

func TestFlushWithoutMetricsEmitsNothing(t *testing.T) {
	old := os.Stdout
	pr, pw, _ := os.Pipe()
	os.Stdout = pw

	New("ImageDelivery").Property("only", "properties").Flush()

	pw.Close()
	os.Stdout = old

	var buf bytes.Buffer
	buf.ReadFrom(pr)
	if buf.Len() != 0 {
		t.Errorf("expected no output, got %q", buf.String())
	}
}
