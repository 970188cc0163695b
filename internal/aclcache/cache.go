package aclcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const cachePrefix = "acl:permissions"

// Permission is the cached projection of a permission record.
type Permission struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Resource string `json:"resource"`
	Action   string `json:"action"`
	Context  string `json:"context"`
}

// Role is the cached projection of a role membership.
type Role struct {
	ID   int64  `json:"id"`
	Slug string `json:"slug"`
	Name string `json:"name"`
}

// Options tunes the per-namespace TTLs. Zero values fall back to the
// defaults (1h for user and existence entries, 2h for role entries).
type Options struct {
	UserTTL       time.Duration
	RoleTTL       time.Duration
	PermissionTTL time.Duration
}

// Stats summarises the cache population per namespace.
type Stats struct {
	TotalKeys        int
	UserPermissions  int
	UserRoles        int
	RolePermissions  int
	PermissionChecks int
}

// Cache is a redis-backed, TTL-bounded cache of effective permission sets,
// role memberships and permission-existence checks. Reads never propagate
// redis failures: a broken or corrupt entry is dropped and reported as a
// miss so the caller recomputes from source.
type Cache struct {
	client  *redis.Client
	logger  *slog.Logger
	userTTL time.Duration
	roleTTL time.Duration
	permTTL time.Duration
}

// New instantiates the cache helper. A nil client disables caching: every
// read is a miss and writes are no-ops.
func New(client *redis.Client, logger *slog.Logger, opts Options) *Cache {
	if opts.UserTTL <= 0 {
		opts.UserTTL = time.Hour
	}
	if opts.RoleTTL <= 0 {
		opts.RoleTTL = 2 * time.Hour
	}
	if opts.PermissionTTL <= 0 {
		opts.PermissionTTL = time.Hour
	}
	return &Cache{
		client:  client,
		logger:  logger,
		userTTL: opts.UserTTL,
		roleTTL: opts.RoleTTL,
		permTTL: opts.PermissionTTL,
	}
}

// CacheUserPermissions stores a principal's effective permission set.
func (c *Cache) CacheUserPermissions(ctx context.Context, userID int64, perms []Permission) error {
	return c.setJSON(ctx, userPermissionsKey(userID), perms, c.userTTL)
}

// CachedUserPermissions loads a principal's cached effective permissions.
// The second return value reports a hit.
func (c *Cache) CachedUserPermissions(ctx context.Context, userID int64) ([]Permission, bool) {
	var perms []Permission
	if !c.getJSON(ctx, userPermissionsKey(userID), &perms) {
		return nil, false
	}
	return perms, true
}

// CacheUserRoles stores a principal's role memberships.
func (c *Cache) CacheUserRoles(ctx context.Context, userID int64, roles []Role) error {
	return c.setJSON(ctx, userRolesKey(userID), roles, c.roleTTL)
}

// CachedUserRoles loads a principal's cached role memberships.
func (c *Cache) CachedUserRoles(ctx context.Context, userID int64) ([]Role, bool) {
	var roles []Role
	if !c.getJSON(ctx, userRolesKey(userID), &roles) {
		return nil, false
	}
	return roles, true
}

// CacheRolePermissions stores a role's effective permission set.
func (c *Cache) CacheRolePermissions(ctx context.Context, roleID int64, perms []Permission) error {
	return c.setJSON(ctx, rolePermissionsKey(roleID), perms, c.roleTTL)
}

// CachedRolePermissions loads a role's cached effective permissions.
func (c *Cache) CachedRolePermissions(ctx context.Context, roleID int64) ([]Permission, bool) {
	var perms []Permission
	if !c.getJSON(ctx, rolePermissionsKey(roleID), &perms) {
		return nil, false
	}
	return perms, true
}

// CachePermissionExists stores the result of a permission existence check.
func (c *Cache) CachePermissionExists(ctx context.Context, resource, action, permCtx string, exists bool) error {
	if c == nil || c.client == nil {
		return nil
	}
	value := "0"
	if exists {
		value = "1"
	}
	return c.client.Set(ctx, permissionKey(resource, action, permCtx), value, c.permTTL).Err()
}

// CachedPermissionExists loads a cached permission existence result.
func (c *Cache) CachedPermissionExists(ctx context.Context, resource, action, permCtx string) (bool, bool) {
	if c == nil || c.client == nil {
		return false, false
	}
	value, err := c.client.Get(ctx, permissionKey(resource, action, permCtx)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.warn("read permission existence", err)
		}
		return false, false
	}
	return value == "1", true
}

// InvalidateUser drops both caches of a principal. Callers invoke this
// before returning from any mutation of the principal's roles or grants.
func (c *Cache) InvalidateUser(ctx context.Context, userID int64) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Del(ctx, userPermissionsKey(userID), userRolesKey(userID)).Err()
}

// InvalidateRole drops a role's cached permission set.
func (c *Cache) InvalidateRole(ctx context.Context, roleID int64) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Del(ctx, rolePermissionsKey(roleID)).Err()
}

// InvalidateAllUsers drops every cached principal permission set. Used as
// the broad invalidation after a role's permission set changes, since cache
// entries do not track role membership.
func (c *Cache) InvalidateAllUsers(ctx context.Context) error {
	if err := c.deleteByPattern(ctx, cachePrefix+":user:*"); err != nil {
		return err
	}
	return c.deleteByPattern(ctx, cachePrefix+":user_roles:*")
}

// InvalidateAllRoles drops every cached role permission set.
func (c *Cache) InvalidateAllRoles(ctx context.Context) error {
	return c.deleteByPattern(ctx, cachePrefix+":role:*")
}

// InvalidatePermission drops a cached permission existence result.
func (c *Cache) InvalidatePermission(ctx context.Context, resource, action, permCtx string) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Del(ctx, permissionKey(resource, action, permCtx)).Err()
}

// Clear drops the entire ACL namespace.
func (c *Cache) Clear(ctx context.Context) error {
	return c.deleteByPattern(ctx, cachePrefix+":*")
}

// Stats counts cached entries per namespace.
func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	if c == nil || c.client == nil {
		return stats, nil
	}
	keys, err := c.keysByPattern(ctx, cachePrefix+":*")
	if err != nil {
		return Stats{}, err
	}
	stats.TotalKeys = len(keys)
	for _, key := range keys {
		switch {
		case strings.HasPrefix(key, cachePrefix+":user_roles:"):
			stats.UserRoles++
		case strings.HasPrefix(key, cachePrefix+":user:"):
			stats.UserPermissions++
		case strings.HasPrefix(key, cachePrefix+":role:"):
			stats.RolePermissions++
		case strings.HasPrefix(key, cachePrefix+":permission:"):
			stats.PermissionChecks++
		}
	}
	return stats, nil
}

func (c *Cache) setJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	if c == nil || c.client == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, payload, ttl).Err()
}

// getJSON reports a hit only for a well-formed entry. A corrupt payload is
// deleted so the next read recomputes from source.
func (c *Cache) getJSON(ctx context.Context, key string, dest any) bool {
	if c == nil || c.client == nil {
		return false
	}
	payload, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.warn("read cache entry", err)
		}
		return false
	}
	if err := json.Unmarshal(payload, dest); err != nil {
		c.warn("corrupt cache entry, dropping", err)
		if delErr := c.client.Del(ctx, key).Err(); delErr != nil {
			c.warn("drop corrupt cache entry", delErr)
		}
		return false
	}
	return true
}

func (c *Cache) deleteByPattern(ctx context.Context, pattern string) error {
	if c == nil || c.client == nil {
		return nil
	}
	keys, err := c.keysByPattern(ctx, pattern)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

func (c *Cache) keysByPattern(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := c.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("aclcache: scan %s: %w", pattern, err)
	}
	return keys, nil
}

func (c *Cache) warn(msg string, err error) {
	if c != nil && c.logger != nil {
		c.logger.Warn(msg, slog.Any("error", err))
	}
}

func userPermissionsKey(userID int64) string {
	return cachePrefix + ":user:" + strconv.FormatInt(userID, 10)
}

func userRolesKey(userID int64) string {
	return cachePrefix + ":user_roles:" + strconv.FormatInt(userID, 10)
}

func rolePermissionsKey(roleID int64) string {
	return cachePrefix + ":role:" + strconv.FormatInt(roleID, 10)
}

func permissionKey(resource, action, permCtx string) string {
	return cachePrefix + ":permission:" + resource + ":" + action + ":" + permCtx
}
