// Package social watches the account's following and followers lists and
// logs who joined or left either one since the previous check.
package social
