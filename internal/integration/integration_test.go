package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dynamotypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/shawn/wecom-gateway/internal/api"
	"github.com/shawn/wecom-gateway/internal/credstore"
	"github.com/shawn/wecom-gateway/internal/lock"
	"github.com/shawn/wecom-gateway/internal/tokencache"
	"github.com/shawn/wecom-gateway/internal/wecom"
)

const tableName = "wecom-credentials-test"

// setupDynamoDB starts a DynamoDB Local container and returns a client + cleanup fn
func setupDynamoDB(ctx context.Context, t *testing.T) (*dynamodb.Client, func()) {
	t.Helper()
	req := testcontainers.ContainerRequest{
		Image:        "amazon/dynamodb-local:latest",
		ExposedPorts: []string{"8000/tcp"},
		Cmd:          []string{"-jar", "DynamoDBLocal.jar", "-inMemory"},
		WaitingFor:   wait.ForListeningPort("8000/tcp"),
	}
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	host, _ := c.Host(ctx)
	port, _ := c.MappedPort(ctx, "8000/tcp")
	endpoint := fmt.Sprintf("http://%s:%s", host, port.Port())

	cfg, _ := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion("us-east-1"),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("test", "test", "")),
	)
	db := dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		o.BaseEndpoint = aws.String(endpoint)
	})

	_, err = db.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName:            aws.String(tableName),
		KeySchema:            []dynamotypes.KeySchemaElement{{AttributeName: aws.String("tenant_id"), KeyType: dynamotypes.KeyTypeHash}},
		AttributeDefinitions: []dynamotypes.AttributeDefinition{{AttributeName: aws.String("tenant_id"), AttributeType: dynamotypes.ScalarAttributeTypeS}},
		BillingMode:          dynamotypes.BillingModePayPerRequest,
	})
	require.NoError(t, err)

	return db, func() { c.Terminate(ctx) }
}

// setupRedis starts a Redis container and returns a client + cleanup fn
func setupRedis(ctx context.Context, t *testing.T) (*redis.Client, func()) {
	t.Helper()
	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp"),
	}
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	host, _ := c.Host(ctx)
	port, _ := c.MappedPort(ctx, "6379/tcp")

	rdb := redis.NewClient(&redis.Options{
		Addr: fmt.Sprintf("%s:%s", host, port.Port()),
	})
	return rdb, func() { c.Terminate(ctx) }
}

func TestIntegration_CredentialStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	db, cleanDB := setupDynamoDB(ctx, t)
	defer cleanDB()
	store := credstore.New(db, tableName)

	creds := &credstore.Credentials{
		TenantID:  "acme",
		CorpID:    "ww123",
		AgentID:   1000002,
		Secret:    "s1",
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.CreateTenant(ctx, creds))
	assert.ErrorIs(t, store.CreateTenant(ctx, creds), credstore.ErrExists)

	got, err := store.GetTenant(ctx, "acme")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "ww123", got.CorpID)
	assert.False(t, got.CallbackReady())

	missing, err := store.GetTenant(ctx, "ghost")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, store.UpdateSecret(ctx, "acme", "s2"))
	require.NoError(t, store.UpdateCallback(ctx, "acme", "cbtoken", "abcdefghijklmnopqrstuvwxyz0123456789ABCDEFG"))
	require.NoError(t, store.UpdateAgentID(ctx, "acme", 7))
	assert.ErrorIs(t, store.UpdateSecret(ctx, "ghost", "x"), credstore.ErrNotFound)

	got, err = store.GetTenant(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, "s2", got.Secret)
	assert.Equal(t, "cbtoken", got.Token)
	assert.Equal(t, int64(7), got.AgentID)
	assert.True(t, got.CallbackReady())

	secret, agent := "s3", int64(9)
	require.NoError(t, store.UpdateTenant(ctx, "acme", credstore.Update{Secret: &secret, AgentID: &agent}))
	got, err = store.GetTenant(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, "s3", got.Secret)
	assert.Equal(t, int64(9), got.AgentID)
	assert.Equal(t, "cbtoken", got.Token, "fields not in the update are kept")
	assert.ErrorIs(t, store.UpdateTenant(ctx, "ghost", credstore.Update{Secret: &secret}), credstore.ErrNotFound)

	require.NoError(t, store.CreateTenant(ctx, &credstore.Credentials{TenantID: "globex", CorpID: "ww2", AgentID: 1, Secret: "s"}))
	all, err := store.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, store.DeleteTenant(ctx, "acme"))
	assert.ErrorIs(t, store.DeleteTenant(ctx, "acme"), credstore.ErrNotFound)
}

func TestIntegration_RedisStoreAndLocker(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	rdb, cleanRedis := setupRedis(ctx, t)
	defer cleanRedis()

	store := tokencache.NewRedisStore(rdb)
	_, _, ok, err := store.Load(ctx, "acme")
	require.NoError(t, err)
	assert.False(t, ok)

	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	require.NoError(t, store.Save(ctx, "acme", "tok", exp))
	v, gotExp, ok, err := store.Load(ctx, "acme")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "tok", v)
	assert.True(t, exp.Equal(gotExp))

	ttl, err := rdb.TTL(ctx, "wecom:token:acme").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 50*time.Minute)

	require.NoError(t, store.Delete(ctx, "acme"))
	_, _, ok, _ = store.Load(ctx, "acme")
	assert.False(t, ok)

	a, b := lock.New(rdb), lock.New(rdb)
	got, err := a.AcquireRefreshLock(ctx, "acme", 10*time.Second)
	require.NoError(t, err)
	assert.True(t, got)

	got, err = b.AcquireRefreshLock(ctx, "acme", 10*time.Second)
	require.NoError(t, err)
	assert.False(t, got, "second replica must not take a held lock")

	// only the owner can release
	require.NoError(t, b.ReleaseRefreshLock(ctx, "acme"))
	got, _ = b.AcquireRefreshLock(ctx, "acme", 10*time.Second)
	assert.False(t, got)

	require.NoError(t, a.ReleaseRefreshLock(ctx, "acme"))
	got, _ = b.AcquireRefreshLock(ctx, "acme", 10*time.Second)
	assert.True(t, got)
}

// vendor fakes the token and message endpoints.
type vendor struct {
	tokens atomic.Int32
	mu     sync.Mutex
	sent   []map[string]any
}

func (v *vendor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/cgi-bin/gettoken":
		n := v.tokens.Add(1)
		time.Sleep(50 * time.Millisecond)
		fmt.Fprintf(w, `{"errcode":0,"errmsg":"ok","access_token":"tok-%d","expires_in":7200}`, n)
	case "/cgi-bin/message/send":
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		body["access_token"] = r.URL.Query().Get("access_token")
		v.mu.Lock()
		v.sent = append(v.sent, body)
		v.mu.Unlock()
		fmt.Fprint(w, `{"errcode":0,"errmsg":"ok","msgid":"m1"}`)
	default:
		http.NotFound(w, r)
	}
}

// TestIntegration_SharedTokenAcrossReplicas runs two gateway replicas
// against one Redis and checks the vendor issues a single token.
func TestIntegration_SharedTokenAcrossReplicas(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	db, cleanDB := setupDynamoDB(ctx, t)
	defer cleanDB()
	rdb, cleanRedis := setupRedis(ctx, t)
	defer cleanRedis()

	v := &vendor{}
	vsrv := httptest.NewServer(v)
	defer vsrv.Close()

	store := credstore.New(db, tableName)
	require.NoError(t, store.CreateTenant(ctx, &credstore.Credentials{
		TenantID: "acme", CorpID: "ww123", AgentID: 1000002, Secret: "s",
	}))

	wcfg := wecom.Config{BaseURL: vsrv.URL + "/cgi-bin"}
	replica := func() http.Handler {
		tokens := tokencache.New(wecom.NewTokenFetcher(store, wcfg),
			tokencache.WithStore(tokencache.NewRedisStore(rdb)),
			tokencache.WithLocker(lock.New(rdb), 10*time.Second, 20*time.Millisecond, 5*time.Second),
		)
		client := wecom.NewClient(tokens, wcfg)
		return api.New(api.Deps{Store: store, Tokens: tokens, Messages: client}, api.Config{}).Router()
	}
	replicas := []*httptest.Server{httptest.NewServer(replica()), httptest.NewServer(replica())}
	for _, s := range replicas {
		defer s.Close()
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(srv *httptest.Server) {
			defer wg.Done()
			body, _ := json.Marshal(map[string]any{"content": "hello", "users": []string{"zhangsan"}})
			resp, err := http.Post(srv.URL+"/tenants/acme/messages", "application/json", bytes.NewReader(body))
			if assert.NoError(t, err) {
				assert.Equal(t, http.StatusOK, resp.StatusCode)
				resp.Body.Close()
			}
		}(replicas[i%2])
	}
	wg.Wait()

	assert.Equal(t, int32(1), v.tokens.Load())
	v.mu.Lock()
	defer v.mu.Unlock()
	require.Len(t, v.sent, 10)
	for _, m := range v.sent {
		assert.Equal(t, "tok-1", m["access_token"])
		assert.Equal(t, "zhangsan", m["touser"])
	}
}
