package website_test

import (
	"testing"

	"github.com/s3lite/s3lite/internal/website"
)

func TestParseRequiresIndexOrRedirect(t *testing.T) {
	if _, err := website.Parse([]byte(`<WebsiteConfiguration></WebsiteConfiguration>`)); err == nil {
		t.Fatal("expected error for empty configuration")
	}
}

func TestIndexKeyForDirectoryRequests(t *testing.T) {
	cfg, err := website.Parse([]byte(`<WebsiteConfiguration><IndexDocument><Suffix>index.html</Suffix></IndexDocument></WebsiteConfiguration>`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := cfg.IndexKeyFor(""); got != "index.html" {
		t.Fatalf("IndexKeyFor('') = %q", got)
	}
	if got := cfg.IndexKeyFor("docs/"); got != "docs/index.html" {
		t.Fatalf("IndexKeyFor('docs/') = %q", got)
	}
	if got := cfg.IndexKeyFor("docs/page.html"); got != "docs/page.html" {
		t.Fatalf("IndexKeyFor('docs/page.html') = %q, want unchanged", got)
	}
}

func TestMatchRoutingRuleByPrefix(t *testing.T) {
	cfg, err := website.Parse([]byte(`
<WebsiteConfiguration>
  <IndexDocument><Suffix>index.html</Suffix></IndexDocument>
  <RoutingRules>
    <RoutingRule>
      <Condition><KeyPrefixEquals>docs/</KeyPrefixEquals></Condition>
      <Redirect><ReplaceKeyPrefixWith>documents/</ReplaceKeyPrefixWith></Redirect>
    </RoutingRule>
  </RoutingRules>
</WebsiteConfiguration>`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	rule := cfg.MatchRoutingRule("docs/page.html", 0)
	if rule == nil {
		t.Fatal("expected matching routing rule")
	}
	if got := rule.ResolveKey("docs/page.html"); got != "documents/page.html" {
		t.Fatalf("ResolveKey() = %q, want documents/page.html", got)
	}

	if cfg.MatchRoutingRule("other/page.html", 0) != nil {
		t.Fatal("unexpected match for unrelated key")
	}
}

func TestMatchRoutingRuleByErrorCode(t *testing.T) {
	cfg, _ := website.Parse([]byte(`
<WebsiteConfiguration>
  <IndexDocument><Suffix>index.html</Suffix></IndexDocument>
  <RoutingRules>
    <RoutingRule>
      <Condition><HttpErrorCodeReturnedEquals>404</HttpErrorCodeReturnedEquals></Condition>
      <Redirect><ReplaceKeyWith>error.html</ReplaceKeyWith></Redirect>
    </RoutingRule>
  </RoutingRules>
</WebsiteConfiguration>`))

	rule := cfg.MatchRoutingRule("missing.html", 404)
	if rule == nil {
		t.Fatal("expected rule to match on error code")
	}
	if rule.ResolveKey("missing.html") != "error.html" {
		t.Fatalf("ResolveKey() = %q, want error.html", rule.ResolveKey("missing.html"))
	}
	if cfg.MatchRoutingRule("missing.html", 0) != nil {
		t.Fatal("rule should not match when there was no error")
	}
}
