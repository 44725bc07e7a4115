package repository

import "gorm.io/gorm"

// AutoMigrate はテーブルを作成・更新する。DB_AUTO_MIGRATE=true の場合とテストでのみ使用する。
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&MessageModel{},
		&CertificateModel{},
		&AuditLogModel{},
		&DataKeyModel{},
	)
}
