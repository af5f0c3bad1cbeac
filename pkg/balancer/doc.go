// Package balancer connects a rebalancing policy to the command scheduler.
//
// A Policy decides which ranges to move, merge or split; the Driver pulls
// those decisions one at a time, submits them as scheduler commands and
// feeds the outcomes back so the policy can plan the next round.
package balancer
