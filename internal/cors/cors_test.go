package cors_test

import (
	"net/http/httptest"
	"testing"

	"github.com/s3lite/s3lite/internal/cors"
)

func TestParseValidatesMethods(t *testing.T) {
	_, err := cors.Parse([]byte(`<CORSConfiguration><CORSRule><AllowedOrigin>*</AllowedOrigin><AllowedMethod>TRACE</AllowedMethod></CORSRule></CORSConfiguration>`))
	if err == nil {
		t.Fatal("expected error for unsupported method")
	}
}

func TestMatchRuleWildcardOrigin(t *testing.T) {
	cfg, err := cors.Parse([]byte(`
<CORSConfiguration>
  <CORSRule>
    <AllowedOrigin>http://*.example.com</AllowedOrigin>
    <AllowedMethod>GET</AllowedMethod>
    <AllowedHeader>*</AllowedHeader>
  </CORSRule>
</CORSConfiguration>`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	rule := cfg.MatchRule("http://foo.example.com", "GET")
	if rule == nil {
		t.Fatal("expected wildcard origin to match")
	}
	if cfg.MatchRule("http://evil.com", "GET") != nil {
		t.Fatal("unexpected match for unrelated origin")
	}
	if cfg.MatchRule("http://foo.example.com", "DELETE") != nil {
		t.Fatal("unexpected match for disallowed method")
	}
}

func TestWriteSimpleHeaders(t *testing.T) {
	cfg, _ := cors.Parse([]byte(`
<CORSConfiguration>
  <CORSRule>
    <AllowedOrigin>*</AllowedOrigin>
    <AllowedMethod>GET</AllowedMethod>
    <ExposeHeader>ETag</ExposeHeader>
  </CORSRule>
</CORSConfiguration>`))
	rule := cfg.MatchRule("http://example.com", "GET")

	rec := httptest.NewRecorder()
	cors.WriteSimpleHeaders(rec, rule, "http://example.com")

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("Allow-Origin = %q, want *", got)
	}
	if got := rec.Header().Get("Access-Control-Expose-Headers"); got != "ETag" {
		t.Fatalf("Expose-Headers = %q, want ETag", got)
	}
}

func TestCheckPreflightRejectsDisallowedHeader(t *testing.T) {
	cfg, _ := cors.Parse([]byte(`
<CORSConfiguration>
  <CORSRule>
    <AllowedOrigin>*</AllowedOrigin>
    <AllowedMethod>PUT</AllowedMethod>
    <AllowedHeader>content-type</AllowedHeader>
  </CORSRule>
</CORSConfiguration>`))
	rule := cfg.MatchRule("http://example.com", "PUT")

	if err := cors.CheckPreflight(rule, []string{"content-type"}); err != nil {
		t.Fatalf("expected allowed header to pass, got %v", err)
	}
	if err := cors.CheckPreflight(rule, []string{"x-custom"}); err == nil {
		t.Fatal("expected disallowed header to fail")
	}
}
