// Package gateway はAPI Gatewayサービスの内部実装を提供する。
//
// ログイン（スーパー管理者のTOTPを含む）とJWT発行、スーパー管理者による
// テナントユーザーへのなりすまし、各サービスへのリバースプロキシを担当する。
// 外部からアクセス可能な唯一のサービスであり、セキュリティの境界線として機能する。
package gateway
