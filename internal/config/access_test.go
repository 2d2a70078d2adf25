package config

import "testing"

func TestParseACLAllowAll(t *testing.T) {
	t.Parallel()
	acl := ParseACL("*")
	if !acl.Allow("203.0.113.5") {
		t.Fatalf("expected '*' to allow any address")
	}
}

func TestParseACLExplicitAddress(t *testing.T) {
	t.Parallel()
	acl := ParseACL("10.0.0.1, 10.0.0.2")
	if !acl.Allow("10.0.0.1") {
		t.Fatalf("expected explicit address to be allowed")
	}
	if acl.Allow("10.0.0.3") {
		t.Fatalf("expected unlisted address to be denied")
	}
}

func TestParseACLCIDR(t *testing.T) {
	t.Parallel()
	acl := ParseACL("192.168.1.0/24")
	if !acl.Allow("192.168.1.42") {
		t.Fatalf("expected address inside CIDR range to be allowed")
	}
	if acl.Allow("192.168.2.1") {
		t.Fatalf("expected address outside CIDR range to be denied")
	}
}

func TestParseACLCleartextToken(t *testing.T) {
	t.Parallel()
	withToken := ParseACL("*,ws:")
	if !withToken.AllowsCleartext() {
		t.Fatalf("expected ws: token to permit cleartext")
	}

	withoutToken := ParseACL("*")
	if withoutToken.AllowsCleartext() {
		t.Fatalf("expected cleartext to be denied without the ws: token")
	}
}

func TestParseACLEmptyDeniesEverything(t *testing.T) {
	t.Parallel()
	acl := ParseACL("")
	if acl.Allow("10.0.0.1") {
		t.Fatalf("expected an empty ACL to deny everything")
	}
}

func TestParseACLMalformedTokenIgnored(t *testing.T) {
	t.Parallel()
	acl := ParseACL("not-an-address,10.0.0.1")
	if !acl.Allow("10.0.0.1") {
		t.Fatalf("expected the well-formed entry to still be honored")
	}
	if acl.Allow("not-an-address") {
		t.Fatalf("malformed entries should not themselves become allowed addresses")
	}
}
