package scripts

import (
	"os"
	"os/user"
	"strconv"
	"time"

	"github.com/karlseguin/ccache"
	"github.com/pkg/errors"
)

const (
	userCacheTimeout = time.Minute * 5
)

// User is a local account scripts may run as.
type User struct {
	Name string
	UID  uint32
	Home string
}

// Root reports whether u is the superuser.
func (u User) Root() bool {
	return u.UID == 0
}

// UserDB resolves local accounts.
type UserDB interface {
	// Lookup resolves an account by name.
	Lookup(name string) (User, error)
	// Current resolves the account of this process.
	Current() (User, error)
}

type cachedUserDB struct {
	cache  *ccache.Cache
	lookup func(name string) (*user.User, error)
	byID   func(uid string) (*user.User, error)
}

// NewUserDB resolves accounts through the system user database and remembers
// the answers, script discovery asks for the same accounts once per phase.
func NewUserDB() UserDB {
	return &cachedUserDB{
		cache:  ccache.New(ccache.Configure().MaxSize(256).ItemsToPrune(32)),
		lookup: user.Lookup,
		byID:   user.LookupId,
	}
}

func (db *cachedUserDB) Lookup(name string) (User, error) {
	return db.fetch("name:"+name, func() (*user.User, error) {
		return db.lookup(name)
	})
}

func (db *cachedUserDB) Current() (User, error) {
	uid := strconv.Itoa(os.Getuid())
	return db.fetch("uid:"+uid, func() (*user.User, error) {
		return db.byID(uid)
	})
}

func (db *cachedUserDB) fetch(key string, resolve func() (*user.User, error)) (User, error) {
	item, err := db.cache.Fetch(key, userCacheTimeout, func() (interface{}, error) {
		u, err := resolve()
		if err != nil {
			return nil, err
		}
		return convertUser(u)
	})
	if err != nil {
		return User{}, err
	}
	u, ok := item.Value().(User)
	if !ok {
		return User{}, errors.Errorf("unexpected cache value for %s", key)
	}
	return u, nil
}

func convertUser(u *user.User) (User, error) {
	uid, err := strconv.ParseUint(u.Uid, 10, 32)
	if err != nil {
		return User{}, errors.Wrapf(err, "unusable uid %q for %s", u.Uid, u.Username)
	}
	return User{
		Name: u.Username,
		UID:  uint32(uid),
		Home: u.HomeDir,
	}, nil
}
