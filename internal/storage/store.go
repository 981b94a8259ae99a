package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const (
	// accountBucket 账号"表"
	accountBucket = "Accounts"
	// shareBucket 分享收藏"表"
	shareBucket = "ShareBookmarks"
)

// errNotFound 内部哨兵，查询接口对外统一返回 (nil, nil)
var errNotFound = errors.New("not found")

// Store 封装 BoltDB 实例
type Store struct {
	conn *bbolt.DB
}

// Open 初始化并打开数据库
func Open(dbPath string) (*Store, error) {
	// 打开数据库，如果文件不存在则创建
	// Timeout 选项防止两个进程同时打开同一个数据库导致死锁
	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("打开 BoltDB 失败: %w", err)
	}

	// 确保 Bucket 存在
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{accountBucket, shareBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("创建 Bucket 失败: %w", err)
	}

	return &Store{conn: db}, nil
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	return s.conn.Close()
}

// GetAccount 按别名取账号，没有记录返回 (nil, nil)
func (s *Store) GetAccount(name string) (*Account, error) {
	var acc Account
	err := s.get(accountBucket, name, &acc)
	if errors.Is(err, errNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &acc, nil
}

// PutAccount 保存或更新账号 (凭据刷新后也走这里)
func (s *Store) PutAccount(acc *Account) error {
	acc.LastUsed = time.Now().UnixNano()
	return s.put(accountBucket, acc.Name, acc)
}

// DeleteAccount 删除账号 (登出时调用)
func (s *Store) DeleteAccount(name string) error {
	return s.delete(accountBucket, name)
}

// ListAccounts 获取所有账号
func (s *Store) ListAccounts() (map[string]*Account, error) {
	result := make(map[string]*Account)
	err := s.conn.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(accountBucket))
		return b.ForEach(func(k, v []byte) error {
			var acc Account
			if err := json.Unmarshal(v, &acc); err != nil {
				return fmt.Errorf("解析数据失败 key=%s: %w", string(k), err)
			}
			result[string(k)] = &acc
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GetBookmark 按 share_id 取分享收藏，没有记录返回 (nil, nil)
func (s *Store) GetBookmark(shareID string) (*ShareBookmark, error) {
	var bm ShareBookmark
	err := s.get(shareBucket, shareID, &bm)
	if errors.Is(err, errNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &bm, nil
}

// PutBookmark 保存分享收藏
func (s *Store) PutBookmark(bm *ShareBookmark) error {
	if bm.CreatedAt == 0 {
		bm.CreatedAt = time.Now().UnixNano()
	}
	return s.put(shareBucket, bm.ShareID, bm)
}

// DeleteBookmark 删除分享收藏
func (s *Store) DeleteBookmark(shareID string) error {
	return s.delete(shareBucket, shareID)
}

// ListBookmarks 获取所有分享收藏
func (s *Store) ListBookmarks() ([]*ShareBookmark, error) {
	var result []*ShareBookmark
	err := s.conn.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(shareBucket))
		return b.ForEach(func(k, v []byte) error {
			var bm ShareBookmark
			if err := json.Unmarshal(v, &bm); err != nil {
				return fmt.Errorf("解析数据失败 key=%s: %w", string(k), err)
			}
			result = append(result, &bm)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) get(bucket, key string, out any) error {
	return s.conn.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket([]byte(bucket)).Get([]byte(key))
		if v == nil {
			return errNotFound
		}
		return json.Unmarshal(v, out)
	})
}

func (s *Store) put(bucket, key string, in any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("序列化失败: %w", err)
	}
	return s.conn.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucket)).Put([]byte(key), data)
	})
}

func (s *Store) delete(bucket, key string) error {
	return s.conn.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucket)).Delete([]byte(key))
	})
}
