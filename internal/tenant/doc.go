// Package tenant はテナント管理サービスの内部実装を提供する。
//
// テナント、テナントユーザー、テンプレート（ページとサイドバー設定）、
// サイドバー要素カタログ、テナントごとのサイドバー上書き設定、
// 公開時にSEOチェックを行うコンテンツページを管理する。
// 他サービス向けにテナント参照とユーザー認証の内部APIも公開する。
package tenant
