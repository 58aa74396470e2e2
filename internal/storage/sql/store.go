package sql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"tempmail/mailgate/internal/domain"
	"tempmail/mailgate/internal/storage"
)

var _ storage.Store = (*Store)(nil)

// Options 数据库连接池与迁移选项
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	AutoMigrate     bool // 启动时由 GORM 自动建表；生产环境建议改用 cmd/migrate
}

// Store SQL 数据库存储实现（支持 PostgreSQL、MySQL 5.7+ 和 SQLite）
type Store struct {
	db     *gorm.DB
	driver string
}

// NewStore 按驱动名创建存储实例，driver 取值 "postgres"、"mysql" 或 "sqlite"。
func NewStore(driver, dsn string, opts Options) (*Store, error) {
	var dialector gorm.Dialector
	switch driver {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "mysql":
		dialector = mysql.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s (supported: postgres, mysql, sqlite)", driver)
	}
	return NewStoreWithDialector(dialector, opts)
}

// NewStoreWithDialector 使用指定的 GORM dialector 创建存储实例
func NewStoreWithDialector(dialector gorm.Dialector, opts Options) (*Store, error) {
	config := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	db, err := gorm.Open(dialector, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	driver := dialector.Name()
	if driver == "sqlite" {
		// SQLite 只允许单写连接；内存库在连接全部关闭后会被销毁
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
		sqlDB.SetConnMaxLifetime(0)
	} else {
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
		sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
		sqlDB.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	store := &Store{db: db, driver: driver}

	if driver == "sqlite" {
		if err := db.Exec("PRAGMA foreign_keys = ON").Error; err != nil {
			return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
		}
	}

	if opts.AutoMigrate {
		if err := store.migrate(); err != nil {
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	return store, nil
}

// migrate 自动迁移数据库表结构
func (s *Store) migrate() error {
	return s.db.AutoMigrate(
		&domain.Mailbox{},
		&domain.Message{},
	)
}

// Driver 返回当前使用的数据库方言名
func (s *Store) Driver() string {
	return s.driver
}

// ========== Mailbox Repository ==========

// CreateMailbox 插入新邮箱，依赖 address 唯一索引保证不重复
func (s *Store) CreateMailbox(ctx context.Context, mailbox *domain.Mailbox) error {
	mb := *mailbox
	mb.CreatedAt = mb.CreatedAt.UTC()
	mb.ExpiresAt = mb.ExpiresAt.UTC()
	mb.Messages = nil
	if err := s.db.WithContext(ctx).Create(&mb).Error; err != nil {
		return classify(err)
	}
	return nil
}

// GetMailboxByAddress 根据完整地址获取邮箱
func (s *Store) GetMailboxByAddress(ctx context.Context, address string) (*domain.Mailbox, error) {
	var mailbox domain.Mailbox
	err := s.db.WithContext(ctx).Where("address = ?", address).First(&mailbox).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrMailboxNotFound
		}
		return nil, classify(err)
	}
	return &mailbox, nil
}

// DeleteExpired 在一个事务内删除过期邮箱及其邮件，返回删除的邮箱数
func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	now = now.UTC()
	var count int64

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		expired := tx.Session(&gorm.Session{NewDB: true}).
			Model(&domain.Mailbox{}).
			Select("id").
			Where("expires_at < ?", now)

		// 外键已声明 ON DELETE CASCADE，这里显式删除以兼容未启用外键的部署
		if err := tx.Where("mailbox_id IN (?)", expired).Delete(&domain.Message{}).Error; err != nil {
			return err
		}

		result := tx.Where("expires_at < ?", now).Delete(&domain.Mailbox{})
		if result.Error != nil {
			return result.Error
		}
		count = result.RowsAffected
		return nil
	})
	if err != nil {
		return 0, classify(err)
	}
	return int(count), nil
}

// ========== Message Repository ==========

// SaveMessages 在一个事务内写入一批邮件
//
// 事务内先确认所有目标邮箱仍存在，再插入邮件；并发清理导致的外键冲突同样归类为邮箱不存在。
func (s *Store) SaveMessages(ctx context.Context, messages ...*domain.Message) error {
	if len(messages) == 0 {
		return nil
	}

	ids := make([]string, 0, len(messages))
	seen := make(map[string]struct{}, len(messages))
	rows := make([]domain.Message, 0, len(messages))
	for _, msg := range messages {
		if _, ok := seen[msg.MailboxID]; !ok {
			seen[msg.MailboxID] = struct{}{}
			ids = append(ids, msg.MailboxID)
		}
		m := *msg
		m.ReceivedAt = m.ReceivedAt.UTC()
		rows = append(rows, m)
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&domain.Mailbox{}).Where("id IN ?", ids).Count(&existing).Error; err != nil {
			return err
		}
		if int(existing) != len(ids) {
			return domain.ErrMailboxNotFound
		}
		return tx.Create(&rows).Error
	})
	if err != nil {
		if errors.Is(err, domain.ErrMailboxNotFound) {
			return err
		}
		err = classify(err)
		// 邮件 ID 冲突不会发生（UUID），外键冲突以外的唯一约束冲突按存储错误处理
		if errors.Is(err, domain.ErrConflict) {
			return fmt.Errorf("%w: duplicate message id", domain.ErrTransientIO)
		}
		return err
	}
	return nil
}

// ListMessages 返回某个邮箱下的全部邮件，最新的在前
func (s *Store) ListMessages(ctx context.Context, mailboxID string) ([]domain.Message, error) {
	var messages []domain.Message
	err := s.db.WithContext(ctx).
		Where("mailbox_id = ?", mailboxID).
		Order("received_at DESC").
		Order("id DESC").
		Find(&messages).Error
	if err != nil {
		return nil, classify(err)
	}
	return messages, nil
}

// GetMessage 根据 ID 获取邮件
func (s *Store) GetMessage(ctx context.Context, messageID string) (*domain.Message, error) {
	var message domain.Message
	err := s.db.WithContext(ctx).Where("id = ?", messageID).First(&message).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrMessageNotFound
		}
		return nil, classify(err)
	}
	return &message, nil
}

// Health 检查数据库连接
func (s *Store) Health(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
