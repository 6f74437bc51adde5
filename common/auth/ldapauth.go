package auth

import (
	"context"
	"crypto/tls"
	"fmt"
	"strconv"

	ldapv3 "github.com/go-ldap/ldap/v3"
	"github.com/rs/zerolog/log"
)

type LDAPConfig struct {
	BindDN string
	BindPW string
	Server string

	UserOU  string
	GroupOU string
	BaseDN  string

	LdapSkipTLSVerify bool
}

// WithDefaults fills in the OUs most directories use.
func (c LDAPConfig) WithDefaults() LDAPConfig {
	if len(c.UserOU) == 0 {
		c.UserOU = "ou=Users"
	}
	if len(c.GroupOU) == 0 {
		c.GroupOU = "ou=Groups"
	}
	return c
}

type LDAPAuth struct {
	config LDAPConfig
}

func CreateLDAPAuth(config LDAPConfig) *LDAPAuth {
	return &LDAPAuth{
		config: config.WithDefaults(),
	}
}

func (ldap *LDAPAuth) getConnection() (*ldapv3.Conn, error) {
	cfg := tls.Config{InsecureSkipVerify: ldap.config.LdapSkipTLSVerify}
	return ldapv3.DialURL(ldap.config.Server, ldapv3.DialWithTLSConfig(&cfg))
}

func (ldap *LDAPAuth) search(c *ldapv3.Conn, req *ldapv3.SearchRequest) (*ldapv3.SearchResult, error) {
	if err := c.Bind(ldap.config.BindDN, ldap.config.BindPW); err != nil {
		return nil, fmt.Errorf("%w: service bind: %v", ServerError, err)
	}
	return c.Search(req)
}

func (ldap *LDAPAuth) userQuery(username string) *ldapv3.SearchRequest {
	return ldapv3.NewSearchRequest(ldap.config.UserOU+","+ldap.config.BaseDN,
		ldapv3.ScopeSingleLevel, ldapv3.NeverDerefAliases,
		0, 0, false,
		fmt.Sprintf("(&(objectClass=organizationalPerson)(|(uid=%[1]s)(mail=%[1]s)))", ldapv3.EscapeFilter(username)),
		[]string{"dn", "uid", "givenName", "mail", "uidNumber"}, nil)
}

func (ldap *LDAPAuth) groupQuery(username string) *ldapv3.SearchRequest {
	return ldapv3.NewSearchRequest(ldap.config.GroupOU+","+ldap.config.BaseDN,
		ldapv3.ScopeWholeSubtree, ldapv3.NeverDerefAliases,
		0, 0, false,
		fmt.Sprintf("(&(objectClass=posixGroup)(memberUid=%s))", ldapv3.EscapeFilter(username)),
		[]string{"cn"}, nil)
}

func (ldap *LDAPAuth) getGroups(c *ldapv3.Conn, username string) []string {
	res, err := ldap.search(c, ldap.groupQuery(username))
	if err != nil {
		log.Err(err).Str("username", username).Msg("Error getting groups for user")
		return []string{}
	}

	groups := make([]string, 0, len(res.Entries))
	for _, entry := range res.Entries {
		groups = append(groups, entry.GetAttributeValue("cn"))
	}
	return groups
}

// AuthenticateUser accepts either the uid or the mail attribute as username.
func (ldap *LDAPAuth) AuthenticateUser(ctx context.Context, username string, password string) (*User, error) {
	// an empty password would be an unauthenticated bind, which most servers accept
	if len(password) == 0 {
		return nil, AuthError
	}

	c, err := ldap.getConnection()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ServerError, err)
	}
	defer c.Close()

	res, err := ldap.search(c, ldap.userQuery(username))
	if err != nil {
		log.Err(err).Msg("Error searching LDAP server")
		return nil, fmt.Errorf("%w: %v", ServerError, err)
	}

	if len(res.Entries) != 1 {
		return nil, AuthError
	}
	entry := res.Entries[0]

	if err := c.Bind(entry.DN, password); err != nil {
		log.Debug().Err(err).Str("username", username).Msg("Invalid password")
		return nil, AuthError
	}

	uid, err := strconv.ParseInt(entry.GetAttributeValue("uidNumber"), 10, 32)
	if err != nil {
		log.Warn().Str("username", username).Msg("User has no usable uidNumber")
	}

	uidName := entry.GetAttributeValue("uid")
	return &User{
		Uid:      int(uid),
		Name:     entry.GetAttributeValue("givenName"),
		Username: uidName,
		Email:    entry.GetAttributeValue("mail"),
		Groups:   ldap.getGroups(c, uidName),
	}, nil
}

func (ldap *LDAPAuth) RegisterUser(ctx context.Context, username string, email string, password string) (*User, error) {
	return nil, ErrNotSupported
}
